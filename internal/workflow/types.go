package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"clipfit/internal/extractor"
	"clipfit/internal/jobstore"
	"clipfit/internal/media"
)

// JobState is a JobStateMachine state.
type JobState string

const (
	StateCreated          JobState = "created"
	StateFetchingManifest JobState = "fetching_manifest"
	StateDownloading      JobState = "downloading"
	StateAudioPath        JobState = "audio"
	StateVideoPath        JobState = "video"
	StateDelivering       JobState = "delivering"
	StateCleanedSuccess   JobState = "cleaned_success"
	StateCleanedFailed    JobState = "cleaned_failed"
)

// Terminal reports whether the job has finished cleanup.
func (s JobState) Terminal() bool {
	return s == StateCleanedSuccess || s == StateCleanedFailed
}

// ErrShuttingDown rejects submissions after Shutdown has begun.
var ErrShuttingDown = errors.New("workflow manager is shutting down")

// Request is what a front end submits.
type Request struct {
	RequesterID string
	URL         string
	Kind        media.OutputKind
}

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	ID            string
	RequesterID   string
	URL           string
	Kind          media.OutputKind
	Platform      media.Platform
	Workspace     string
	State         JobState
	Progress      string
	Title         string
	CorrelationID string
	CreatedAt     time.Time
}

// job is owned by its runner goroutine; mu guards the fields Snapshot reads.
type job struct {
	mu   sync.Mutex
	snap Snapshot

	cleanup sync.Once
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

func (j *job) update(fn func(*Snapshot)) {
	j.mu.Lock()
	fn(&j.snap)
	j.mu.Unlock()
}

// outcome is what a run hands to cleanup.
type outcome struct {
	err      error
	path     string
	size     int64
	attempts int
	degraded bool
}

// Extractor is the source extractor contract.
type Extractor interface {
	FetchManifest(ctx context.Context, url string) (extractor.Manifest, error)
	Materialize(ctx context.Context, req extractor.MaterializeRequest) (string, error)
}

// Workspace allocates and tears down per-job directories.
type Workspace interface {
	Allocate(requesterID string) (string, error)
	Release(path string)
}

// Registry enforces one active job per requester.
type Registry interface {
	Submit(requesterID, jobID string) error
	Complete(requesterID, jobID string) bool
}

// Store persists job history. A nil Store disables persistence.
type Store interface {
	Insert(ctx context.Context, rec jobstore.Record) error
	UpdateProgress(ctx context.Context, id, stage, message string) error
	SetTitle(ctx context.Context, id, title string) error
	Finish(ctx context.Context, id string, out jobstore.Outcome) error
}
