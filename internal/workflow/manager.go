package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"clipfit/internal/budget"
	"clipfit/internal/delivery"
	"clipfit/internal/encoding"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/notifications"
	"clipfit/internal/services"
)

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Extractor Extractor
	Attempts  encoding.AttemptRunner
	Delivery  delivery.Channel
	Workspace Workspace
	Registry  Registry
	Store     Store
	Notifier  notifications.Service
}

// Options tune the pipeline.
type Options struct {
	Budget        budget.SizeBudget
	MaxAttempts   int
	MaxConcurrent int
}

// Manager accepts submissions and runs each job on its own goroutine.
type Manager struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	slots  *semaphore.Weighted

	base   context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*job
	closing bool
	wg      sync.WaitGroup

	newID func() string
}

// NewManager wires a manager. Zero options fall back to the default budget,
// three retries and four concurrent jobs.
func NewManager(deps Dependencies, opts Options, logger *slog.Logger) *Manager {
	if opts.Budget.CeilingBytes <= 0 {
		opts.Budget = budget.DefaultBudget()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = budget.DefaultMaxAttempts
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 4
	}
	if deps.Delivery == nil {
		deps.Delivery = delivery.Discard{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "workflow"),
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		base:   base,
		cancel: cancel,
		jobs:   make(map[string]*job),
		newID:  func() string { return ulid.Make().String() },
	}
}

// Submit validates and registers a job, then starts it in the background.
// It returns the job ID, or an error wrapping services.ErrConcurrencyRejected
// when the requester already has a job running.
func (m *Manager) Submit(ctx context.Context, req Request) (string, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.URL = strings.TrimSpace(req.URL)
	if req.RequesterID == "" {
		return "", services.Wrap(services.ErrValidation, "workflow", "submit", "requester is required", nil)
	}
	if req.URL == "" {
		return "", services.Wrap(services.ErrValidation, "workflow", "submit", "url is required", nil)
	}
	kind, err := media.ParseOutputKind(string(req.Kind))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "workflow", "submit", "", err)
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return "", services.Wrap(services.ErrTransient, "workflow", "submit", "", ErrShuttingDown)
	}
	id := m.newID()
	if err := m.deps.Registry.Submit(req.RequesterID, id); err != nil {
		m.mu.Unlock()
		m.logger.Info("submission rejected",
			logging.String(logging.FieldRequester, req.RequesterID),
			logging.String(logging.FieldEventType, "job_rejected"),
			logging.Error(err),
		)
		return "", err
	}
	j := &job{snap: Snapshot{
		ID:            id,
		RequesterID:   req.RequesterID,
		URL:           req.URL,
		Kind:          kind,
		Platform:      media.DetectPlatform(req.URL),
		State:         StateCreated,
		Progress:      "Queued",
		CorrelationID: correlationID(ctx),
		CreatedAt:     time.Now(),
	}}
	m.jobs[id] = j
	m.wg.Add(1)
	m.mu.Unlock()

	snap := j.snapshot()
	if m.deps.Store != nil {
		rec := jobstore.Record{
			ID:              id,
			RequesterID:     snap.RequesterID,
			SourceURL:       snap.URL,
			Kind:            string(snap.Kind),
			Stage:           string(StateCreated),
			ProgressMessage: snap.Progress,
			CorrelationID:   snap.CorrelationID,
			CreatedAt:       snap.CreatedAt,
		}
		if err := m.deps.Store.Insert(ctx, rec); err != nil {
			logging.WarnWithContext(m.logger, "failed to record job", "job_store_failed",
				logging.String(logging.FieldJobID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "job runs without history"),
			)
		}
	}

	m.logger.Info("job accepted",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldRequester, snap.RequesterID),
		logging.String("kind", string(snap.Kind)),
		logging.String("platform", string(snap.Platform)),
		logging.String(logging.FieldEventType, "job_accepted"),
	)

	go m.run(j)
	return id, nil
}

// Job returns a snapshot of an in-flight job.
func (m *Manager) Job(id string) (Snapshot, bool) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Active returns snapshots of all in-flight jobs, oldest first.
func (m *Manager) Active() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Budget returns the size budget applied to video jobs.
func (m *Manager) Budget() budget.SizeBudget {
	return m.opts.Budget
}

// Wait blocks until every submitted job has finished cleanup.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting jobs and waits for in-flight ones until ctx ends.
// Jobs still waiting for a slot fail immediately; running jobs are never
// interrupted and finish their own cleanup even after Shutdown returns.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.RLock()
		remaining := len(m.jobs)
		m.mu.RUnlock()
		return fmt.Errorf("%d job(s) still running: %w", remaining, ctx.Err())
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

func correlationID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := services.RequestIDFromContext(ctx); ok {
			return id
		}
	}
	return uuid.NewString()
}
