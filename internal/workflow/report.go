package workflow

import (
	"context"
	"fmt"
	"time"

	"dubforge/internal/queue"
)

// Exit codes shared by the run and batch commands.
const (
	ExitSuccess      = 0
	ExitStageFailure = 1
	ExitPartialBatch = 2
	ExitCancelled    = 130
)

// ReportItem is the outcome of one job in a batch.
type ReportItem struct {
	JobID     int64
	Source    string
	Status    queue.Status
	Stage     string
	ErrorKind string
	Message   string
	Output    string
}

// BatchReport summarizes drained jobs.
type BatchReport struct {
	Items     []ReportItem
	Succeeded int
	Failed    int
	Cancelled int
	// Pending counts jobs that were not terminal when the drain returned.
	Pending  int
	Duration time.Duration
}

// Report builds a BatchReport for ids from the queue's current state.
func (m *Manager) Report(ctx context.Context, ids []int64) (BatchReport, error) {
	var report BatchReport
	for _, id := range ids {
		job, err := m.store.GetByID(ctx, id)
		if err != nil {
			return report, err
		}
		if job == nil {
			return report, fmt.Errorf("report job %d: %w", id, queue.ErrJobNotFound)
		}
		report.add(job)
	}
	return report, nil
}

func (r *BatchReport) add(job *queue.Job) {
	r.Items = append(r.Items, ReportItem{
		JobID:     job.ID,
		Source:    job.SourcePath,
		Status:    job.Status,
		Stage:     job.CurrentStage,
		ErrorKind: job.ErrorKind,
		Message:   job.ErrorMessage,
		Output:    job.OutputPath,
	})
	switch job.Status {
	case queue.StatusSucceeded:
		r.Succeeded++
	case queue.StatusFailed:
		r.Failed++
	case queue.StatusCancelled:
		r.Cancelled++
	default:
		r.Pending++
	}
}

// ExitCode maps the report onto the CLI exit codes: any cancellation wins,
// a batch where only some jobs failed is a partial failure, and anything
// else that did not succeed is a stage failure.
func (r BatchReport) ExitCode() int {
	switch {
	case r.Cancelled > 0:
		return ExitCancelled
	case r.Failed == 0 && r.Pending == 0:
		return ExitSuccess
	case len(r.Items) > 1 && r.Succeeded > 0:
		return ExitPartialBatch
	default:
		return ExitStageFailure
	}
}
