package services_test

import (
	"context"
	"testing"

	"dirjobs/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithWorkerID(ctx, "w1")
	ctx = services.WithJob(ctx, "a.txt")
	ctx = services.WithStage(ctx, "processing")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.WorkerIDFromContext(ctx); !ok || id != "w1" {
		t.Fatalf("unexpected worker id: %v %v", id, ok)
	}
	if job, ok := services.JobFromContext(ctx); !ok || job != "a.txt" {
		t.Fatalf("unexpected job: %v %v", job, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "processing" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithJob(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.JobFromContext(ctx); ok {
		t.Fatal("expected no job value")
	}
}
