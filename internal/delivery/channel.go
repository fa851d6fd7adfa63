package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"clipfit/internal/services"
)

// Target identifies the job and requester a delivery call belongs to.
type Target struct {
	JobID       string
	RequesterID string
}

// Scheme returns the requester prefix before the first colon.
func (t Target) Scheme() string {
	scheme, _, ok := strings.Cut(t.RequesterID, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Address returns the requester identity after the scheme prefix.
func (t Target) Address() string {
	_, addr, ok := strings.Cut(t.RequesterID, ":")
	if !ok {
		return t.RequesterID
	}
	return strings.TrimSpace(addr)
}

// Channel reports to a requester. Callers treat progress as best-effort;
// DeliverFile and ReportError failures end the job's delivery stage.
type Channel interface {
	ReportProgress(ctx context.Context, target Target, text string) error
	DeliverFile(ctx context.Context, target Target, path, caption string) error
	ReportError(ctx context.Context, target Target, message string) error
}

// Router dispatches to channels by requester scheme.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Channel
	fallback Channel
}

// NewRouter returns a router that uses fallback for unknown schemes. A nil
// fallback makes unknown schemes a delivery error.
func NewRouter(fallback Channel) *Router {
	return &Router{routes: make(map[string]Channel), fallback: fallback}
}

// Handle registers ch for requester IDs starting with scheme + ":".
func (r *Router) Handle(scheme string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[strings.ToLower(strings.TrimSpace(scheme))] = ch
}

// Schemes lists registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for scheme := range r.routes {
		out = append(out, scheme)
	}
	return out
}

func (r *Router) channel(target Target) (Channel, error) {
	r.mu.RLock()
	ch, ok := r.routes[target.Scheme()]
	r.mu.RUnlock()
	if ok {
		return ch, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, services.Wrap(services.ErrDelivery, "delivery", "route",
		fmt.Sprintf("no channel for requester %q", target.RequesterID), nil)
}

func (r *Router) ReportProgress(ctx context.Context, target Target, text string) error {
	ch, err := r.channel(target)
	if err != nil {
		return err
	}
	return ch.ReportProgress(ctx, target, text)
}

func (r *Router) DeliverFile(ctx context.Context, target Target, path, caption string) error {
	ch, err := r.channel(target)
	if err != nil {
		return err
	}
	return ch.DeliverFile(ctx, target, path, caption)
}

func (r *Router) ReportError(ctx context.Context, target Target, message string) error {
	ch, err := r.channel(target)
	if err != nil {
		return err
	}
	return ch.ReportError(ctx, target, message)
}

// Discard is a channel that accepts and drops everything.
type Discard struct{}

func (Discard) ReportProgress(context.Context, Target, string) error      { return nil }
func (Discard) DeliverFile(context.Context, Target, string, string) error { return nil }
func (Discard) ReportError(context.Context, Target, string) error         { return nil }
