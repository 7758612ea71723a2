// Package async provides the durable generation job record and its lifecycle.
//
// The package is domain-agnostic: JobType, Config and Result are opaque here and
// decoded into typed shapes by the generation package.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/courseforge/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed (other than Reset from failed).
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one generation request.
//
// Invariants held by the transition methods:
//   - StartedAt is set once, by pending -> processing
//   - CompletedAt is set once, on entry into completed or failed
//   - Result is non-empty iff completed, ErrorMessage iff failed
type Job struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	ParentEntityID string          `json:"parent_entity_id,omitempty"`
	BatchID        string          `json:"batch_id,omitempty"`
	JobType        string          `json:"job_type"`
	Status         JobStatus       `json:"status"`
	Config         json.RawMessage `json:"config"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Attempts       int             `json:"attempts"`
	Deleted        bool            `json:"deleted,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Spec describes a job to create.
type Spec struct {
	OwnerID        string
	ParentEntityID string
	BatchID        string
	JobType        string
	Config         json.RawMessage
}

// NewJob creates a pending job from spec.
func NewJob(spec Spec, now time.Time) (*Job, error) {
	if spec.OwnerID == "" {
		return nil, errors.NewInvalidRequestError("job owner cannot be empty")
	}
	if spec.JobType == "" {
		return nil, errors.NewInvalidRequestError("job type cannot be empty")
	}
	config := spec.Config
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	now = now.UTC()
	return &Job{
		ID:             uuid.NewString(),
		OwnerID:        spec.OwnerID,
		ParentEntityID: spec.ParentEntityID,
		BatchID:        spec.BatchID,
		JobType:        spec.JobType,
		Status:         JobStatusPending,
		Config:         config,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Start moves pending -> processing
func (j *Job) Start(now time.Time) error {
	if j.Status != JobStatusPending {
		return errors.NewInvalidTransitionError(j.ID, string(j.Status), string(JobStatusProcessing))
	}
	now = now.UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.Attempts++
	j.UpdatedAt = now
	return nil
}

// Complete moves processing -> completed with a non-empty result
func (j *Job) Complete(result json.RawMessage, now time.Time) error {
	if j.Status != JobStatusProcessing {
		return errors.NewInvalidTransitionError(j.ID, string(j.Status), string(JobStatusCompleted))
	}
	if len(result) == 0 || string(result) == "null" {
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s: completed job requires a result", j.ID)
	}
	now = now.UTC()
	j.Status = JobStatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail moves processing -> failed with a non-empty message
func (j *Job) Fail(message string, now time.Time) error {
	if j.Status != JobStatusProcessing {
		return errors.NewInvalidTransitionError(j.ID, string(j.Status), string(JobStatusFailed))
	}
	if message == "" {
		message = "unknown error"
	}
	now = now.UTC()
	j.Status = JobStatusFailed
	j.ErrorMessage = message
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Reset moves failed -> pending, clearing timestamps, result and error.
// Config is left untouched so a retry re-runs the original request.
func (j *Job) Reset(now time.Time) error {
	if j.Status != JobStatusFailed {
		return errors.NewInvalidTransitionError(j.ID, string(j.Status), string(JobStatusPending))
	}
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ErrorMessage = ""
	j.Result = nil
	j.UpdatedAt = now.UTC()
	return nil
}

// Duration is the wall time between start and completion, zero while running.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
