package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dubforge/internal/sqlitedb"
)

// ErrJobNotFound is returned when a job ID does not exist.
var ErrJobNotFound = errors.New("job not found")

// SetStage records the stage a running job is executing.
func (s *Store) SetStage(ctx context.Context, id int64, stage string) error {
	now := sqlitedb.FormatTime(time.Now())
	if _, err := s.exec(ctx,
		`UPDATE jobs SET current_stage = ?, updated_at = ?, last_heartbeat = ? WHERE id = ?`,
		sqlitedb.NullableString(stage), now, now, id,
	); err != nil {
		return fmt.Errorf("set stage: %w", err)
	}
	return nil
}

// Outcome is the terminal result recorded by Finish.
type Outcome struct {
	Status       Status
	ErrorKind    string
	ErrorMessage string
	OutputPath   string
}

// Finish records a terminal status for a running job.
func (s *Store) Finish(ctx context.Context, id int64, outcome Outcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finish job %d: status %q is not terminal", id, outcome.Status)
	}
	now := sqlitedb.FormatTime(time.Now())
	res, err := s.exec(ctx,
		`UPDATE jobs
         SET status = ?, error_kind = ?, error_message = ?, output_path = COALESCE(?, output_path),
             cancel_requested = 0, completed_at = ?, updated_at = ?, last_heartbeat = NULL
         WHERE id = ?`,
		outcome.Status,
		sqlitedb.NullableString(outcome.ErrorKind),
		sqlitedb.NullableString(outcome.ErrorMessage),
		sqlitedb.NullableString(outcome.OutputPath),
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish job %d: %w", id, ErrJobNotFound)
	}
	return nil
}

// RequestCancel cancels a queued job immediately or flags a running job so its
// worker stops at the next stage or segment boundary. It returns the job's
// status after the request. Terminal jobs are left untouched.
func (s *Store) RequestCancel(ctx context.Context, id int64) (Status, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("cancel job %d: %w", id, ErrJobNotFound)
	}
	now := sqlitedb.FormatTime(time.Now())
	switch job.Status {
	case StatusQueued:
		res, err := s.exec(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, error_kind = 'cancelled', completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusCancelled, CancelledByUser, now, now, id, StatusQueued,
		)
		if err != nil {
			return "", fmt.Errorf("cancel queued job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return StatusCancelled, nil
		}
		// Claimed between the read and the update; fall through to the running path.
		fallthrough
	case StatusRunning:
		if _, err := s.exec(ctx,
			`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
			now, id, StatusRunning,
		); err != nil {
			return "", fmt.Errorf("flag running job: %w", err)
		}
		return StatusRunning, nil
	default:
		return job.Status, nil
	}
}

// CancelRequested reports whether an operator asked the job to stop.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var flag int64
	if err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag); err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for a running job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := sqlitedb.FormatTime(time.Now())
	if _, err := s.exec(ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, StatusRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ResetStuckRunning returns every running job to the queue. Call it at startup
// when no worker can own a running job. Jobs that were asked to cancel are
// marked cancelled instead.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	return s.requeueRunning(ctx, "", "Reset from interrupted run")
}

// ReclaimStale requeues running jobs whose heartbeat is older than cutoff.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.requeueRunning(ctx, sqlitedb.FormatTime(cutoff), "Reclaimed from stale heartbeat")
}

func (s *Store) requeueRunning(ctx context.Context, cutoff, reason string) (int64, error) {
	now := sqlitedb.FormatTime(time.Now())
	staleClause := ""
	args := []any{
		StatusCancelled, StatusQueued,
		CancelledByUser, reason,
		now, now,
		StatusRunning,
	}
	if cutoff != "" {
		staleClause = ` AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`
		args = append(args, cutoff)
	}
	res, err := s.exec(ctx,
		`UPDATE jobs
         SET status = CASE cancel_requested WHEN 1 THEN ? ELSE ? END,
             error_message = CASE cancel_requested WHEN 1 THEN ? ELSE ? END,
             completed_at = CASE cancel_requested WHEN 1 THEN ? ELSE NULL END,
             cancel_requested = 0, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`+staleClause,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed or cancelled jobs back to queued. With no IDs every
// failed job is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := sqlitedb.FormatTime(time.Now())
	if len(ids) == 0 {
		res, err := s.exec(ctx,
			`UPDATE jobs
             SET status = ?, error_kind = NULL, error_message = NULL, completed_at = NULL, updated_at = ?
             WHERE status = ?`,
			StatusQueued, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+4)
	args = append(args, StatusQueued, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed, StatusCancelled)
	res, err := s.exec(ctx,
		`UPDATE jobs
         SET status = ?, error_kind = NULL, error_message = NULL, completed_at = NULL, updated_at = ?
         WHERE id IN (`+sqlitedb.Placeholders(len(ids))+`) AND status IN (?, ?)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}
