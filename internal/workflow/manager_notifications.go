package workflow

import (
	"context"
	"errors"

	"dubforge/internal/logging"
	"dubforge/internal/notifications"
	"dubforge/internal/pipeline"
	"dubforge/internal/queue"
	"dubforge/internal/services"
)

func (m *Manager) notifyJobCompleted(ctx context.Context, job *queue.Job, res pipeline.Result) {
	m.publish(ctx, notifications.EventJobCompleted, notifications.Payload{
		"name":    job.DisplayName(),
		"output":  res.Artifact,
		"drifted": len(res.Drifted),
	})
}

func (m *Manager) notifyJobFailed(ctx context.Context, job *queue.Job, details services.ErrorDetails, message string) {
	m.publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"name":  job.DisplayName(),
		"stage": details.Stage,
		"error": message,
	})
}

// NotifyBatch publishes the summary of a drained batch.
func (m *Manager) NotifyBatch(ctx context.Context, label string, report BatchReport) {
	m.publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
		"label":     label,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"cancelled": report.Cancelled,
		"duration":  report.Duration,
	})
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("shutting down, notification dropped", logging.String("event", string(event)))
			return
		}
		m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
