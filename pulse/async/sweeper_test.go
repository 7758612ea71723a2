package async

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCronosSweepsStuckJobs(t *testing.T) {
	queue, clock := newTestQueue(t)
	ctx := context.Background()

	stuck, _ := queue.Create(ctx, Spec{OwnerID: "ada", JobType: "outline"})
	_, _ = queue.Start(ctx, stuck.ID)

	done, _ := queue.Create(ctx, Spec{OwnerID: "ada", JobType: "quiz"})
	_, _ = queue.Start(ctx, done.ID)
	_, _ = queue.Complete(ctx, done.ID, json.RawMessage(`{}`))

	clock.Advance(20 * time.Minute)
	recent, _ := queue.Create(ctx, Spec{OwnerID: "ada", JobType: "script"})
	_, _ = queue.Start(ctx, recent.ID)

	sweeper := NewSweeper(queue, 15*time.Minute, time.Minute, zap.NewNop().Sugar())
	sweeper.now = clock.Now

	n, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 stuck job failed, got %d", n)
	}

	got, _ := queue.Get(ctx, stuck.ID)
	if got.Status != JobStatusFailed || got.ErrorMessage != StuckJobMessage {
		t.Errorf("Stuck job not failed correctly: %s %q", got.Status, got.ErrorMessage)
	}
	if got, _ := queue.Get(ctx, recent.ID); got.Status != JobStatusProcessing {
		t.Errorf("Recent job must keep processing, got %s", got.Status)
	}
	if got, _ := queue.Get(ctx, done.ID); got.Status != JobStatusCompleted {
		t.Errorf("Completed job must be untouched, got %s", got.Status)
	}
}

func TestSweeperStartStop(t *testing.T) {
	queue, _ := newTestQueue(t)
	sweeper := NewSweeper(queue, time.Hour, 10*time.Millisecond, nil)
	sweeper.Start(context.Background())
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeperStopWithoutStart(t *testing.T) {
	queue, _ := newTestQueue(t)
	NewSweeper(queue, time.Hour, time.Minute, nil).Stop()
}

func TestCronosHandsSweptJobsToOnFailed(t *testing.T) {
	queue, clock := newTestQueue(t)
	ctx := context.Background()

	stuck, _ := queue.Create(ctx, Spec{OwnerID: "ada", ParentEntityID: "lesson-tides", JobType: "script"})
	_, _ = queue.Start(ctx, stuck.ID)
	clock.Advance(time.Hour)

	var released []*Job
	sweeper := NewSweeper(queue, 15*time.Minute, time.Minute, zap.NewNop().Sugar()).
		OnFailed(func(_ context.Context, job *Job) { released = append(released, job) })
	sweeper.now = clock.Now

	if _, err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("Expected OnFailed once, got %d", len(released))
	}
	if released[0].ID != stuck.ID || released[0].ParentEntityID != "lesson-tides" || released[0].Status != JobStatusFailed {
		t.Errorf("OnFailed got the wrong job: %+v", released[0])
	}

	// A second pass finds nothing and calls nothing
	if _, err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(released) != 1 {
		t.Errorf("Expected no further OnFailed calls, got %d", len(released))
	}
}
