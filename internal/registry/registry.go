// Package registry tracks the in-flight job of each requester and enforces
// at most one active job per requester identity.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"clipfit/internal/services"
)

// ErrJobActive is returned when a requester already has a job running.
var ErrJobActive = fmt.Errorf("%w: requester has an active job", services.ErrConcurrencyRejected)

// Entry is one registered job.
type Entry struct {
	RequesterID string
	JobID       string
	Since       time.Time
}

// Registry is the process-wide requester to job table.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry), now: time.Now}
}

// Submit registers jobID for requesterID. It fails with ErrJobActive when
// the requester already holds an entry.
func (r *Registry) Submit(requesterID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[requesterID]; ok {
		return fmt.Errorf("%w (job %s)", ErrJobActive, existing.JobID)
	}
	r.entries[requesterID] = Entry{RequesterID: requesterID, JobID: jobID, Since: r.now()}
	return nil
}

// Complete removes the requester's entry if it still belongs to jobID.
// It reports whether an entry was removed.
func (r *Registry) Complete(requesterID, jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.entries[requesterID]
	if !ok || existing.JobID != jobID {
		return false
	}
	delete(r.entries, requesterID)
	return true
}

// Lookup returns the active entry for requesterID.
func (r *Registry) Lookup(requesterID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[requesterID]
	return entry, ok
}

// Active returns a snapshot of all entries ordered by registration time.
func (r *Registry) Active() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Len returns the number of active jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
