package async

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/courseforge/errors"
)

// Store handles persistence of generation jobs
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the store's time source (tests)
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create builds a pending job from spec and persists it
func (s *Store) Create(ctx context.Context, spec Spec) (*Job, error) {
	job, err := NewJob(spec, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job.Status != JobStatusPending {
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s must be created pending, got %s", job.ID, job.Status)
	}

	query := `
		INSERT INTO generation_jobs (
			id, owner_id, parent_entity_id, batch_id, job_type, status,
			config, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		nullString(job.ParentEntityID),
		nullString(job.BatchID),
		job.JobType,
		job.Status,
		string(job.Config),
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM generation_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// GetOwnedJob retrieves a job that belongs to owner. Other owners' jobs are NotFound.
func (s *Store) GetOwnedJob(ctx context.Context, owner, id string) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != owner || job.Deleted {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	return job, nil
}

// StartJob transitions pending -> processing
func (s *Store) StartJob(ctx context.Context, id string) (*Job, error) {
	return s.transition(ctx, id, func(j *Job, now time.Time) error { return j.Start(now) })
}

// CompleteJob transitions processing -> completed
func (s *Store) CompleteJob(ctx context.Context, id string, result json.RawMessage) (*Job, error) {
	return s.transition(ctx, id, func(j *Job, now time.Time) error { return j.Complete(result, now) })
}

// FailJob transitions processing -> failed
func (s *Store) FailJob(ctx context.Context, id string, message string) (*Job, error) {
	return s.transition(ctx, id, func(j *Job, now time.Time) error { return j.Fail(message, now) })
}

// ResetJob transitions failed -> pending for an explicit retry
func (s *Store) ResetJob(ctx context.Context, id string) (*Job, error) {
	return s.transition(ctx, id, func(j *Job, now time.Time) error { return j.Reset(now) })
}

// transition loads the job, applies apply and writes it back only if the
// stored status is still the one apply saw. A concurrent writer makes the
// update match zero rows, which is reported as an invalid transition.
func (s *Store) transition(ctx context.Context, id string, apply func(*Job, time.Time) error) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	from := job.Status

	if err := apply(job, s.now()); err != nil {
		return nil, err
	}

	query := `
		UPDATE generation_jobs
		SET status = ?,
		    result = ?,
		    error_message = ?,
		    attempts = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	var result sql.NullString
	if len(job.Result) > 0 {
		result = sql.NullString{String: string(job.Result), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query,
		job.Status,
		result,
		nullString(job.ErrorMessage),
		job.Attempts,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
		from,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update job %s", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return nil, errors.NewInvalidTransitionError(id, string(from)+" (stale)", string(job.Status))
	}

	return job, nil
}

// ListForOwner returns the owner's jobs, most recent first
func (s *Store) ListForOwner(ctx context.Context, owner string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM generation_jobs
		WHERE owner_id = ? AND deleted = 0
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListByBatch returns every member job of a batch in creation order
func (s *Store) ListByBatch(ctx context.Context, owner, batchID string) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM generation_jobs
		WHERE owner_id = ? AND batch_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, owner, batchID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list batch jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "batch jobs")
}

// ListStuck returns processing jobs that started before cutoff
func (s *Store) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM generation_jobs
		WHERE status = 'processing' AND started_at < ?
		ORDER BY started_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stuck jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "stuck jobs")
}

// CountByStatus returns job counts keyed by status, excluding deleted jobs
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM generation_jobs WHERE deleted = 0 GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SoftDelete hides a terminal job from listings. The row is kept for audit.
func (s *Store) SoftDelete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs SET deleted = 1, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status IN ('completed', 'failed')`,
		s.now().UTC(), id, owner)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("terminal job not found: %s", id)
	}
	return nil
}

// CleanupOldJobs soft-deletes terminal jobs last updated before olderThan ago
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs SET deleted = 1, updated_at = ?
		WHERE deleted = 0 AND status IN ('completed', 'failed') AND updated_at < ?`,
		now, now.Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
