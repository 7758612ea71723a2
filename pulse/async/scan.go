package async

import (
	"database/sql"

	"github.com/teranos/courseforge/errors"
)

// JobScanArgs holds the nullable intermediates needed to scan a job row.
type JobScanArgs struct {
	ParentEntityID sql.NullString
	BatchID        sql.NullString
	Config         sql.NullString
	Result         sql.NullString
	ErrorMessage   sql.NullString
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.OwnerID,
		&args.ParentEntityID,
		&args.BatchID,
		&job.JobType,
		&job.Status,
		&args.Config,
		&args.Result,
		&args.ErrorMessage,
		&job.Attempts,
		&job.Deleted,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable values into job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if !IsValidStatus(string(job.Status)) {
		return errors.Newf("job %s has unknown status %q", job.ID, job.Status)
	}
	job.ParentEntityID = args.ParentEntityID.String
	job.BatchID = args.BatchID.String
	if args.Config.Valid {
		job.Config = []byte(args.Config.String)
	}
	if args.Result.Valid && args.Result.String != "" {
		job.Result = []byte(args.Result.String)
	}
	job.ErrorMessage = args.ErrorMessage.String
	if args.StartedAt.Valid {
		t := args.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

// scanJob scans a single job from a row or rows cursor
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args JobScanArgs
	if err := row.Scan(GetJobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	if err := ProcessJobScanArgs(&job, &args); err != nil {
		return nil, err
	}
	return &job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, owner_id, parent_entity_id, batch_id, job_type, status,
		config, result, error_message, attempts, deleted,
		created_at, started_at, completed_at, updated_at`
}
