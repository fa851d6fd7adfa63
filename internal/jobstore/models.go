package jobstore

import (
	"strings"
	"time"
)

// Status is the persisted outcome of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus normalizes a status string.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusRunning:
		return StatusRunning, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// Finished reports whether no further updates are expected.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one persisted job.
type Record struct {
	ID              string
	RequesterID     string
	SourceURL       string
	Kind            string
	Status          Status
	Stage           string
	ProgressMessage string
	Title           string
	CorrelationID   string
	Attempts        int
	FinalSize       int64
	FileName        string
	ErrorKind       string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      *time.Time
}

// Outcome captures the terminal fields written by Finish.
type Outcome struct {
	Status       Status
	Title        string
	Attempts     int
	FinalSize    int64
	FileName     string
	ErrorKind    string
	ErrorMessage string
}

// Counts summarises records per status.
type Counts struct {
	Running   int
	Completed int
	Failed    int
}
