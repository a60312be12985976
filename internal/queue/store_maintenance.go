package queue

import (
	"context"
	"fmt"

	"dubforge/internal/sqlitedb"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for status output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusRunning:
			health.Running += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// Remove deletes job rows. Running jobs are skipped so a worker never loses
// its record mid-flight.
func (s *Store) Remove(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusRunning)
	res, err := s.exec(ctx,
		`DELETE FROM jobs WHERE id IN (`+sqlitedb.Placeholders(len(ids))+`) AND status != ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("remove jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearTerminal deletes succeeded, failed, and cancelled jobs and returns their IDs.
func (s *Store) ClearTerminal(ctx context.Context) ([]int64, error) {
	jobs, err := s.List(ctx, StatusSucceeded, StatusFailed, StatusCancelled)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	if _, err := s.Remove(ctx, ids...); err != nil {
		return nil, err
	}
	return ids, nil
}
