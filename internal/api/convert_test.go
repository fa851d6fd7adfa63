package api

import (
	"testing"
	"time"

	"clipfit/internal/budget"
	"clipfit/internal/jobstore"
	"clipfit/internal/media"
	"clipfit/internal/workflow"
)

func TestFromSnapshotMarksActive(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	job := FromSnapshot(workflow.Snapshot{
		ID:          "01J",
		RequesterID: "http:abc",
		URL:         "https://youtu.be/x",
		Kind:        media.KindAudio,
		Platform:    media.PlatformYouTube,
		State:       workflow.StateDownloading,
		Progress:    "⬇️ Downloading 40%",
		CreatedAt:   created,
	})
	if !job.Active || job.Status != "running" {
		t.Fatalf("expected active running job, got %+v", job)
	}
	if job.Progress.Stage != "downloading" || job.Kind != "audio" || job.Platform != "youtube" {
		t.Fatalf("unexpected conversion %+v", job)
	}
	if job.CreatedAt != "2026-03-01T11:00:00.000Z" {
		t.Fatalf("expected UTC timestamp, got %q", job.CreatedAt)
	}
}

func TestFromRecordTerminalFields(t *testing.T) {
	finished := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	job := FromRecord(&jobstore.Record{
		ID:           "01J",
		Status:       jobstore.StatusFailed,
		Stage:        "video",
		Attempts:     3,
		ErrorKind:    "size_constraint",
		ErrorMessage: "too big",
		FinishedAt:   &finished,
	})
	if job.Active || job.Status != "failed" || job.Attempts != 3 || job.ErrorKind != "size_constraint" {
		t.Fatalf("unexpected conversion %+v", job)
	}
	if job.FinishedAt != "2026-03-01T12:05:00.000Z" {
		t.Fatalf("unexpected finishedAt %q", job.FinishedAt)
	}
	if job.CreatedAt != "" {
		t.Fatalf("zero time should be omitted, got %q", job.CreatedAt)
	}
	if FromRecord(nil).ID != "" {
		t.Fatal("nil record should convert to zero job")
	}
}

func TestFromRecordsSkipsNil(t *testing.T) {
	jobs := FromRecords([]*jobstore.Record{{ID: "a"}, nil, {ID: "b"}})
	if len(jobs) != 2 || jobs[0].ID != "a" || jobs[1].ID != "b" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestFromBudget(t *testing.T) {
	status := FromBudget(budget.SizeBudget{CeilingBytes: 100, MarginBytes: 10}, 3)
	if status.TargetBytes != 90 || status.CeilingBytes != 100 || status.MaxAttempts != 3 {
		t.Fatalf("unexpected budget status %+v", status)
	}
}
