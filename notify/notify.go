// Package notify tells owners that their generation work has settled.
//
// Every sink is best-effort: delivery happens at most once, failures are
// returned to the caller for logging and never affect job or credit state.
package notify

import (
	"context"
	"time"

	"github.com/teranos/courseforge/errors"
)

const (
	EventJobCompleted   = "job.completed"
	EventBatchCompleted = "batch.completed"
)

// Notifier is implemented by every delivery sink
type Notifier interface {
	NotifyJobComplete(ctx context.Context, owner string, job JobSummary) error
	NotifyBatchComplete(ctx context.Context, owner string, batch BatchSummary) error
}

// JobSummary describes a settled job. Status is completed or failed.
type JobSummary struct {
	JobID       string    `json:"job_id"`
	OwnerID     string    `json:"owner_id"`
	JobType     string    `json:"job_type"`
	Status      string    `json:"status"`
	CreditsUsed int       `json:"credits_used"`
	Error       string    `json:"error,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// BatchSummary describes a batch once every member job has settled
type BatchSummary struct {
	BatchID   string   `json:"batch_id"`
	OwnerID   string   `json:"owner_id"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	JobIDs    []string `json:"job_ids"`
}

// Event is the wire envelope shared by the webhook, stream and websocket sinks
type Event struct {
	Type      string        `json:"type"`
	OwnerID   string        `json:"owner_id"`
	Job       *JobSummary   `json:"job,omitempty"`
	Batch     *BatchSummary `json:"batch,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func jobEvent(owner string, job JobSummary, now time.Time) Event {
	return Event{Type: EventJobCompleted, OwnerID: owner, Job: &job, Timestamp: now.UTC()}
}

func batchEvent(owner string, batch BatchSummary, now time.Time) Event {
	return Event{Type: EventBatchCompleted, OwnerID: owner, Batch: &batch, Timestamp: now.UTC()}
}

// Multi fans a notification out to every sink. All sinks are attempted;
// their errors are combined.
type Multi []Notifier

func (m Multi) NotifyJobComplete(ctx context.Context, owner string, job JobSummary) error {
	var combined error
	for _, n := range m {
		if n == nil {
			continue
		}
		combined = errors.CombineErrors(combined, n.NotifyJobComplete(ctx, owner, job))
	}
	return combined
}

func (m Multi) NotifyBatchComplete(ctx context.Context, owner string, batch BatchSummary) error {
	var combined error
	for _, n := range m {
		if n == nil {
			continue
		}
		combined = errors.CombineErrors(combined, n.NotifyBatchComplete(ctx, owner, batch))
	}
	return combined
}

// Nop discards notifications
type Nop struct{}

func (Nop) NotifyJobComplete(context.Context, string, JobSummary) error     { return nil }
func (Nop) NotifyBatchComplete(context.Context, string, BatchSummary) error { return nil }
