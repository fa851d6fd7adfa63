package api

import (
	"time"

	"clipfit/internal/budget"
	"clipfit/internal/deps"
	"clipfit/internal/jobstore"
	"clipfit/internal/preflight"
	"clipfit/internal/workflow"
)

// FromSnapshot converts a live workflow job to its API representation.
func FromSnapshot(snap workflow.Snapshot) Job {
	return Job{
		ID:        snap.ID,
		Requester: snap.RequesterID,
		URL:       snap.URL,
		Kind:      string(snap.Kind),
		Platform:  string(snap.Platform),
		Status:    string(jobstore.StatusRunning),
		Active:    !snap.State.Terminal(),
		Title:     snap.Title,
		Progress: JobProgress{
			Stage:   string(snap.State),
			Message: snap.Progress,
		},
		CorrelationID: snap.CorrelationID,
		CreatedAt:     formatTime(snap.CreatedAt),
	}
}

// FromRecord converts a job history record to its API representation.
func FromRecord(rec *jobstore.Record) Job {
	if rec == nil {
		return Job{}
	}
	dto := Job{
		ID:        rec.ID,
		Requester: rec.RequesterID,
		URL:       rec.SourceURL,
		Kind:      rec.Kind,
		Status:    string(rec.Status),
		Active:    rec.Status == jobstore.StatusRunning,
		Title:     rec.Title,
		Progress: JobProgress{
			Stage:   rec.Stage,
			Message: rec.ProgressMessage,
		},
		Attempts:      rec.Attempts,
		FinalSize:     rec.FinalSize,
		FileName:      rec.FileName,
		ErrorKind:     rec.ErrorKind,
		ErrorMessage:  rec.ErrorMessage,
		CorrelationID: rec.CorrelationID,
		CreatedAt:     formatTime(rec.CreatedAt),
		UpdatedAt:     formatTime(rec.UpdatedAt),
	}
	if rec.FinishedAt != nil {
		dto.FinishedAt = formatTime(*rec.FinishedAt)
	}
	return dto
}

// FromRecords converts a slice of records, preserving order.
func FromRecords(records []*jobstore.Record) []Job {
	out := make([]Job, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromDependencies converts dependency statuses.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, len(results))
	for i, r := range results {
		out[i] = CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail}
	}
	return out
}

// FromBudget converts a size budget.
func FromBudget(b budget.SizeBudget, maxAttempts int) BudgetStatus {
	return BudgetStatus{
		CeilingBytes: b.CeilingBytes,
		TargetBytes:  b.TargetBytes(),
		MaxAttempts:  maxAttempts,
	}
}

// FromCounts converts history counts to a status-keyed map.
func FromCounts(counts jobstore.Counts) map[string]int {
	return map[string]int{
		string(jobstore.StatusRunning):   counts.Running,
		string(jobstore.StatusCompleted): counts.Completed,
		string(jobstore.StatusFailed):    counts.Failed,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
