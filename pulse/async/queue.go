package async

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/courseforge/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue is the job store as seen by the rest of the system: every lifecycle
// write goes through it so subscribers (websocket hub, CLI watch) observe it.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return NewQueueWithStore(NewStore(db))
}

// NewQueueWithStore wraps an existing store (tests with a fixed clock)
func NewQueueWithStore(store *Store) *Queue {
	return &Queue{
		store:       store,
		subscribers: make([]chan *Job, 0),
	}
}

// Store exposes the underlying store for read-only reporting
func (q *Queue) Store() *Store {
	return q.store
}

// Create persists a new pending job
func (q *Queue) Create(ctx context.Context, spec Spec) (*Job, error) {
	job, err := q.store.Create(ctx, spec)
	if err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Owner: %s", spec.OwnerID))
		err = errors.WithDetail(err, fmt.Sprintf("Job type: %s", spec.JobType))
		return nil, err
	}
	q.notifySubscribers(job)
	return job, nil
}

// Start marks a pending job processing
func (q *Queue) Start(ctx context.Context, id string) (*Job, error) {
	return q.publish(q.store.StartJob(ctx, id))
}

// Complete marks a processing job completed with result
func (q *Queue) Complete(ctx context.Context, id string, result json.RawMessage) (*Job, error) {
	job, err := q.store.CompleteJob(ctx, id, result)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	return q.publish(job, nil)
}

// Fail marks a processing job failed with message
func (q *Queue) Fail(ctx context.Context, id string, message string) (*Job, error) {
	job, err := q.store.FailJob(ctx, id, message)
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		err = errors.WithDetail(err, fmt.Sprintf("Failure: %s", message))
		return nil, err
	}
	return q.publish(job, nil)
}

// Reset returns a failed job to pending
func (q *Queue) Reset(ctx context.Context, id string) (*Job, error) {
	return q.publish(q.store.ResetJob(ctx, id))
}

// Get retrieves a job by ID
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// GetOwned retrieves a job by ID scoped to owner
func (q *Queue) GetOwned(ctx context.Context, owner, id string) (*Job, error) {
	return q.store.GetOwnedJob(ctx, owner, id)
}

// ListForOwner returns owner's jobs, most recent first
func (q *Queue) ListForOwner(ctx context.Context, owner string, limit int) ([]*Job, error) {
	return q.store.ListForOwner(ctx, owner, limit)
}

// ListByBatch returns a batch's member jobs
func (q *Queue) ListByBatch(ctx context.Context, owner, batchID string) ([]*Job, error) {
	return q.store.ListByBatch(ctx, owner, batchID)
}

// Cleanup soft-deletes old terminal jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return q.store.CleanupOldJobs(ctx, olderThan)
}

func (q *Queue) publish(job *Job, err error) (*Job, error) {
	if err != nil {
		return nil, err
	}
	q.notifySubscribers(job)
	return job, nil
}

// Subscribe returns a channel that receives a snapshot of every job change
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize) // Buffered to avoid blocking
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method; callers own its lifecycle.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a copy of job to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		snapshot := *job
		select {
		case ch <- &snapshot:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}
