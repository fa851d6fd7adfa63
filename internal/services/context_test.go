package services_test

import (
	"context"
	"testing"

	"clipfit/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "01JOB")
	ctx = services.WithRequester(ctx, "telegram:42")
	ctx = services.WithStage(ctx, "downloading")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "01JOB" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if requester, ok := services.RequesterFromContext(ctx); !ok || requester != "telegram:42" {
		t.Fatalf("unexpected requester: %v %v", requester, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "downloading" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}
