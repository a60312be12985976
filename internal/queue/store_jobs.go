package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dubforge/internal/sqlitedb"
)

const jobColumns = "id, source_path, batch_label, status, current_stage, error_kind, error_message, output_path, cancel_requested, attempts, created_at, updated_at, started_at, completed_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		sourcePath      string
		batchLabel      sql.NullString
		statusStr       string
		currentStage    sql.NullString
		errorKind       sql.NullString
		errorMessage    sql.NullString
		outputPath      sql.NullString
		cancelRequested int64
		attempts        int64
		createdRaw      string
		updatedRaw      string
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		heartbeatRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&sourcePath,
		&batchLabel,
		&statusStr,
		&currentStage,
		&errorKind,
		&errorMessage,
		&outputPath,
		&cancelRequested,
		&attempts,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		SourcePath:      sourcePath,
		BatchLabel:      batchLabel.String,
		Status:          Status(statusStr),
		CurrentStage:    currentStage.String,
		ErrorKind:       errorKind.String,
		ErrorMessage:    errorMessage.String,
		OutputPath:      outputPath.String,
		CancelRequested: cancelRequested != 0,
		Attempts:        int(attempts),
	}
	if created, err := sqlitedb.ParseTime(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := sqlitedb.ParseTime(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.StartedAt = optionalTime(startedRaw)
	job.CompletedAt = optionalTime(completedRaw)
	job.LastHeartbeat = optionalTime(heartbeatRaw)
	return job, nil
}

func optionalTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := sqlitedb.ParseTime(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

// NewJob enqueues a source media file.
func (s *Store) NewJob(ctx context.Context, sourcePath, batchLabel string) (*Job, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	timestamp := sqlitedb.FormatTime(time.Now())
	res, err := s.exec(
		ctx,
		`INSERT INTO jobs (source_path, batch_label, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		sourcePath,
		sqlitedb.NullableString(batchLabel),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. A missing job returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if _, err := s.exec(
		ctx,
		`UPDATE jobs
         SET source_path = ?, batch_label = ?, status = ?, current_stage = ?, error_kind = ?,
             error_message = ?, output_path = ?, cancel_requested = ?, attempts = ?,
             updated_at = ?, started_at = ?, completed_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.SourcePath,
		sqlitedb.NullableString(job.BatchLabel),
		job.Status,
		sqlitedb.NullableString(job.CurrentStage),
		sqlitedb.NullableString(job.ErrorKind),
		sqlitedb.NullableString(job.ErrorMessage),
		sqlitedb.NullableString(job.OutputPath),
		sqlitedb.BoolToInt(job.CancelRequested),
		job.Attempts,
		sqlitedb.FormatTime(job.UpdatedAt),
		sqlitedb.NullableTime(job.StartedAt),
		sqlitedb.NullableTime(job.CompletedAt),
		sqlitedb.NullableTime(job.LastHeartbeat),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs ordered by ID, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + sqlitedb.Placeholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY id`
	return s.queryJobs(ctx, query, args...)
}

// ListBatch returns the jobs submitted under a batch label.
func (s *Store) ListBatch(ctx context.Context, label string) ([]*Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE batch_label = ? ORDER BY id`, label)
}

// LatestForSource returns the newest job for sourcePath, or (nil, nil).
func (s *Store) LatestForSource(ctx context.Context, sourcePath string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source_path = ? ORDER BY id DESC LIMIT 1`,
		strings.TrimSpace(sourcePath))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job for source: %w", err)
	}
	return job, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNext atomically moves the oldest queued job to running and returns it.
// It returns (nil, nil) when nothing is queued.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	var claimed int64
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		claimed = 0
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY id LIMIT 1`, StatusQueued,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		now := sqlitedb.FormatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET status = ?, started_at = ?, updated_at = ?, last_heartbeat = ?,
                 attempts = attempts + 1, error_kind = NULL, error_message = NULL,
                 completed_at = NULL, current_stage = NULL
             WHERE id = ? AND status = ?`,
			StatusRunning, now, now, now, id, StatusQueued,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = id
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if claimed == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, claimed)
}
