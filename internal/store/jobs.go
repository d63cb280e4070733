// ABOUTME: Course generation job and outline reads and status writes.
// ABOUTME: Job status transitions other than failed belong to the pipeline.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobStatus is the business status of a course generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the job needs no further processing.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Outline is the course outline a job generates content from.
type Outline struct {
	ID      uuid.UUID
	JobID   uuid.UUID
	Title   string
	Content json.RawMessage
}

// Job is a course_generation_jobs row together with its outline, if any.
type Job struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Status       JobStatus
	ErrorMessage string
	FailedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Outline      *Outline // nil when no outline row exists
}

// GetJob returns the job and its outline. Returns ErrNotFound if the job
// does not exist; a missing outline is reported as a nil Outline.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	var (
		j            Job
		errMsg       *string
		outlineID    *uuid.UUID
		outlineTitle *string
		outlineBody  []byte
	)
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT j.job_id, j.org_id, j.status, j.error_message, j.failed_at,
			       j.created_at, j.updated_at,
			       o.outline_id, o.title, o.content
			FROM course_generation_jobs j
			LEFT JOIN course_outlines o ON o.job_id = j.job_id
			WHERE j.job_id = $1`, id).Scan(
			&j.ID, &j.OrgID, &j.Status, &errMsg, &j.FailedAt,
			&j.CreatedAt, &j.UpdatedAt,
			&outlineID, &outlineTitle, &outlineBody,
		)
	})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	if outlineID != nil {
		j.Outline = &Outline{ID: *outlineID, JobID: j.ID, Content: json.RawMessage(outlineBody)}
		if outlineTitle != nil {
			j.Outline.Title = *outlineTitle
		}
	}
	return &j, nil
}

// UpdateJobStatus sets the job's status, error message and failure time.
// An empty errMsg or nil failedAt clears the corresponding column.
func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string, failedAt *time.Time) error {
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE course_generation_jobs
			SET status = $2, error_message = NULLIF($3, ''), failed_at = $4, updated_at = now()
			WHERE job_id = $1`,
			id, string(status), errMsg, failedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update job %s status: %w", id, err)
	}
	return nil
}

// NewOutline is the outline inserted alongside a job by CreateJob.
type NewOutline struct {
	Title   string
	Content json.RawMessage
}

// CreateJob inserts a pending job for orgID, plus its outline when outline is
// non-nil, in one transaction.
func (s *Store) CreateJob(ctx context.Context, orgID uuid.UUID, outline *NewOutline) (*Job, error) {
	var j Job
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO course_generation_jobs (org_id)
			VALUES ($1)
			RETURNING job_id, org_id, status, created_at, updated_at`, orgID).Scan(
			&j.ID, &j.OrgID, &j.Status, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if outline == nil {
			return nil
		}
		content := outline.Content
		if len(content) == 0 {
			content = json.RawMessage(`{}`)
		}
		o := Outline{JobID: j.ID, Title: outline.Title, Content: content}
		if err := tx.QueryRow(ctx, `
			INSERT INTO course_outlines (job_id, title, content)
			VALUES ($1, $2, $3)
			RETURNING outline_id`, j.ID, outline.Title, string(content)).Scan(&o.ID); err != nil {
			return fmt.Errorf("insert outline: %w", err)
		}
		j.Outline = &o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &j, nil
}
