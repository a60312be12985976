package workflow

import (
	"context"
	"log/slog"

	"dubforge/internal/logging"
	"dubforge/internal/queue"
	"dubforge/internal/services"
)

// handleJobFailure records a failed job. A failure never affects sibling jobs;
// the worker moves on to the next claim.
func (m *Manager) handleJobFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error) {
	details := services.Details(jobErr)
	message := services.Summary(jobErr)
	if details.Stage != "" {
		job.CurrentStage = details.Stage
	}

	m.finish(ctx, logger, job, queue.Outcome{
		Status:       queue.StatusFailed,
		ErrorKind:    string(details.Kind),
		ErrorMessage: message,
	})
	m.setLastError(jobErr)

	hint := "fix the source media or configuration; retrying will fail again"
	if details.Retryable {
		hint = "retry the job once the dependency recovers"
	}
	attrs := []logging.Attr{
		logging.Error(jobErr),
		logging.String(logging.FieldStage, details.Stage),
		logging.String("error_kind", string(details.Kind)),
		logging.Bool("retryable", details.Retryable),
		logging.String(logging.FieldErrorHint, hint),
	}
	if details.Segment >= 0 {
		attrs = append(attrs, logging.Int(logging.FieldSegment, details.Segment))
	}
	logging.ErrorWithContext(logger, "job failed", "job_failure", attrs...)

	m.notifyJobFailed(ctx, job, details, message)
}
