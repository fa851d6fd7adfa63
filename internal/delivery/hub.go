package delivery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"clipfit/internal/fileutil"
	"clipfit/internal/logging"
	"clipfit/internal/services"
)

// Event types published by the hub.
const (
	EventProgress = "progress"
	EventReady    = "ready"
	EventError    = "error"
)

// ErrNoFile is returned when a job has no delivered file in the outbox.
var ErrNoFile = errors.New("no delivered file")

const subscriberBuffer = 8

// Event is one status update streamed to HTTP clients.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Message   string `json:"message"`
	FileName  string `json:"file_name,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Type == EventReady || e.Type == EventError
}

type hubJob struct {
	last        Event
	hasLast     bool
	file        string
	updated     time.Time
	subscribers map[chan Event]struct{}
}

// Hub is the HTTP delivery channel. Finished files are moved into
// <outbox>/<job id>/ so they outlive the job workspace, and every event is
// fanned out to SSE subscribers with the latest one replayed on subscribe.
type Hub struct {
	outbox string
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*hubJob
	now  func() time.Time
}

// NewHub creates a hub that stores delivered files under outbox.
func NewHub(outbox string, logger *slog.Logger) *Hub {
	return &Hub{
		outbox: outbox,
		logger: logging.NewComponentLogger(logger, "delivery-http"),
		jobs:   make(map[string]*hubJob),
		now:    time.Now,
	}
}

func (h *Hub) ReportProgress(_ context.Context, target Target, text string) error {
	h.publish(Event{Type: EventProgress, JobID: target.JobID, Message: text})
	return nil
}

func (h *Hub) DeliverFile(ctx context.Context, target Target, path, caption string) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "stat", "", err)
	}
	dir := filepath.Join(h.outbox, target.JobID)
	dest := fileutil.UniquePath(dir, filepath.Base(path))
	if err := fileutil.MoveFile(path, dest); err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "outbox", "move into outbox", err)
	}

	h.mu.Lock()
	job := h.job(target.JobID)
	job.file = dest
	h.mu.Unlock()

	logging.WithContext(ctx, h.logger).Info("file ready for download",
		logging.String("path", dest),
		logging.SizeBytes(info.Size()),
	)
	h.publish(Event{
		Type:     EventReady,
		JobID:    target.JobID,
		Message:  caption,
		FileName: filepath.Base(dest),
		Size:     info.Size(),
	})
	return nil
}

func (h *Hub) ReportError(_ context.Context, target Target, message string) error {
	h.publish(Event{Type: EventError, JobID: target.JobID, Message: message})
	return nil
}

// Subscribe returns a channel of events for jobID, primed with the latest
// event. The channel closes after a terminal event or when cancel is called.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	job := h.job(jobID)
	if job.hasLast {
		ch <- job.last
		if job.last.Terminal() {
			close(ch)
			return ch, func() {}
		}
	}
	job.subscribers[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if j, ok := h.jobs[jobID]; ok {
				if _, live := j.subscribers[ch]; live {
					delete(j.subscribers, ch)
					close(ch)
				}
			}
		})
	}
	return ch, cancel
}

// Last returns the most recent event for jobID.
func (h *Hub) Last(jobID string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	job, ok := h.jobs[jobID]
	if !ok || !job.hasLast {
		return Event{}, false
	}
	return job.last, true
}

// File returns the outbox path of the job's delivered file.
func (h *Hub) File(jobID string) (string, error) {
	h.mu.Lock()
	job, ok := h.jobs[jobID]
	var path string
	if ok {
		path = job.file
	}
	h.mu.Unlock()
	if path == "" {
		return "", ErrNoFile
	}
	if _, err := os.Stat(path); err != nil {
		return "", ErrNoFile
	}
	return path, nil
}

// RemoveFile deletes the job's outbox directory. Missing files are not an
// error.
func (h *Hub) RemoveFile(jobID string) error {
	h.mu.Lock()
	if job, ok := h.jobs[jobID]; ok {
		job.file = ""
	}
	h.mu.Unlock()
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) || jobID == ".." {
		return services.Wrap(services.ErrValidation, "delivery", "remove", "invalid job id", nil)
	}
	if err := os.RemoveAll(filepath.Join(h.outbox, jobID)); err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "remove", "", err)
	}
	return nil
}

// Sweep removes outbox directories and finished job state older than maxAge.
// It returns the number of outbox directories removed.
func (h *Hub) Sweep(maxAge time.Duration) int {
	cutoff := h.now().Add(-maxAge)

	h.mu.Lock()
	for id, job := range h.jobs {
		if job.last.Terminal() && len(job.subscribers) == 0 && job.updated.Before(cutoff) {
			delete(h.jobs, id)
		}
	}
	h.mu.Unlock()

	entries, err := os.ReadDir(h.outbox)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.WarnWithContext(h.logger, "outbox sweep failed", "outbox_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check outbox_dir permissions"),
				logging.String(logging.FieldImpact, "expired files not removed"),
			)
		}
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(h.outbox, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		h.logger.Info("expired outbox files removed",
			logging.Int("count", removed),
			logging.String(logging.FieldEventType, "outbox_sweep"),
		)
	}
	return removed
}

// job returns the state for id, creating it. Callers hold h.mu.
func (h *Hub) job(id string) *hubJob {
	job, ok := h.jobs[id]
	if !ok {
		job = &hubJob{subscribers: make(map[chan Event]struct{}), updated: h.now()}
		h.jobs[id] = job
	}
	return job
}

func (h *Hub) publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	event.Timestamp = h.now().UnixMilli()
	job := h.job(event.JobID)
	job.last = event
	job.hasLast = true
	job.updated = h.now()

	for ch := range job.subscribers {
		if event.Terminal() {
			sendEvicting(ch, event)
			delete(job.subscribers, ch)
			close(ch)
			continue
		}
		select {
		case ch <- event:
		default:
			h.logger.Debug("skipping update for slow subscriber", logging.String(logging.FieldJobID, event.JobID))
		}
	}
}

// sendEvicting queues event, dropping the oldest queued events when the
// buffer is full. Callers hold h.mu, so no other sender competes for the
// freed slot.
func sendEvicting(ch chan Event, event Event) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
