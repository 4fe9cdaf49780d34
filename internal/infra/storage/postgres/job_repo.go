package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
)

// JobRepo implements storage.JobRepository using PostgreSQL. The jobs table
// is the durable backend of the event queue: pending rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple workers never double-claim a job.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

// Enqueue persists a new pending job.
func (r *JobRepo) Enqueue(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (id, event_type, tx_hash, payload, status, attempts, next_run_at, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.EventType, job.TxHash, []byte(job.Payload))
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimNext claims the oldest runnable pending job.
func (r *JobRepo) ClaimNext(ctx context.Context) (*domain.Job, error) {
	query := `
		UPDATE jobs SET status = 'processing', updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND next_run_at <= NOW()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, tx_hash, payload, attempts, created_at
	`
	var job domain.Job
	var payload []byte
	err := r.db.QueryRowContext(ctx, query).Scan(
		&job.ID, &job.EventType, &job.TxHash, &payload, &job.Attempts, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	job.Payload = payload
	job.Status = domain.JobProcessing
	return &job, nil
}

// Complete removes a successfully processed job.
func (r *JobRepo) Complete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

// Fail records a failed attempt and schedules the next delivery.
func (r *JobRepo) Fail(ctx context.Context, id string, lastError string, nextRunAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'pending', attempts = attempts + 1, last_error = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, lastError, nextRunAt)
	return err
}

// DeadLetter moves a job to the terminal dead state with its payload intact.
func (r *JobRepo) DeadLetter(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE jobs
		SET status = 'dead', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, lastError)
	return err
}

// Requeue resets a dead job to pending with a fresh retry budget.
func (r *JobRepo) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = 'pending', attempts = 0, last_error = '', next_run_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'dead'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("requeue job %s: no dead job with that id", id)
	}
	return nil
}

// FindDead looks up a dead job by its event identity.
func (r *JobRepo) FindDead(ctx context.Context, txHash string, eventType domain.EventType) (*domain.Job, error) {
	query := `
		SELECT id, event_type, tx_hash, payload, attempts, last_error, created_at
		FROM jobs
		WHERE status = 'dead' AND tx_hash = $1 AND event_type = $2
		ORDER BY created_at ASC
		LIMIT 1
	`
	var job domain.Job
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, txHash, eventType).Scan(
		&job.ID, &job.EventType, &job.TxHash, &payload, &job.Attempts, &job.LastError, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.Status = domain.JobDead
	return &job, nil
}

// ListDead returns dead jobs, oldest first.
func (r *JobRepo) ListDead(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT id, event_type, tx_hash, payload, attempts, last_error, created_at
		FROM jobs
		WHERE status = 'dead'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var job domain.Job
		var payload []byte
		if err := rows.Scan(&job.ID, &job.EventType, &job.TxHash, &payload, &job.Attempts, &job.LastError, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Payload = payload
		job.Status = domain.JobDead
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// CountDead returns the number of dead jobs.
func (r *JobRepo) CountDead(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'dead'`).Scan(&count)
	return count, err
}

// ReleaseStale resets processing jobs back to pending. The service runs as a
// single instance, so any processing row at startup belongs to a crashed run.
func (r *JobRepo) ReleaseStale(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', updated_at = NOW() WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
