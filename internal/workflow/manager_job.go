package workflow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/logging"
	"dubforge/internal/manifest"
	"dubforge/internal/pipeline"
	"dubforge/internal/queue"
	"dubforge/internal/services"
)

const interruptedMessage = "Interrupted before completion"

// processJob runs one claimed job to a terminal state. With interruptAsCancel
// unset, a job stopped by shutdown stays running so the next start requeues it.
func (m *Manager) processJob(ctx context.Context, job *queue.Job, interruptAsCancel bool) {
	ctx = services.WithRequestID(services.WithJobID(ctx, job.ID), uuid.NewString())
	logger, closeLog := m.jobLogger(ctx, job)
	defer closeLog()

	started := time.Now()
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("source", job.SourcePath),
		logging.Int("attempt", job.Attempts))

	persist := context.WithoutCancel(ctx)
	var requested atomic.Bool
	opts := pipeline.RunOptions{
		Cancelled: func(context.Context) bool {
			flag, err := m.store.CancelRequested(persist, job.ID)
			if err != nil {
				logger.Debug("cancel flag unavailable", logging.Error(err))
				return false
			}
			if flag {
				requested.Store(true)
			}
			return flag
		},
		OnStage: func(_ context.Context, stage manifest.Stage) {
			job.CurrentStage = string(stage)
			if err := m.store.SetStage(persist, job.ID, string(stage)); err != nil {
				logger.Warn("failed to record current stage", logging.Error(err))
			}
		},
	}

	res, err := m.executeWithHeartbeat(ctx, job, opts)
	switch {
	case err == nil:
		m.finishSucceeded(persist, logger, job, res, time.Since(started))
	case services.Classify(err) == services.KindCancelled:
		if !requested.Load() && !interruptAsCancel && ctx.Err() != nil {
			logger.Info("job interrupted by shutdown; it resumes on next start")
			return
		}
		message := queue.CancelledByUser
		if !requested.Load() {
			message = interruptedMessage
		}
		m.finish(persist, logger, job, queue.Outcome{
			Status:       queue.StatusCancelled,
			ErrorKind:    string(services.KindCancelled),
			ErrorMessage: message,
		})
		logger.Info("job cancelled",
			logging.String(logging.FieldEventType, "job_cancelled"),
			logging.String(logging.FieldStage, job.CurrentStage),
			logging.String("reason", message))
	default:
		m.handleJobFailure(persist, logger, job, err)
	}
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, job *queue.Job, opts pipeline.RunOptions) (pipeline.Result, error) {
	// Heartbeats continue while an interrupted job finishes its in-flight call.
	hbCtx, hbCancel := context.WithCancel(context.WithoutCancel(ctx))
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	res, err := m.runner.RunJob(ctx, job, opts)
	hbCancel()
	hbWG.Wait()
	return res, err
}

func (m *Manager) finishSucceeded(ctx context.Context, logger *slog.Logger, job *queue.Job, res pipeline.Result, elapsed time.Duration) {
	m.finish(ctx, logger, job, queue.Outcome{Status: queue.StatusSucceeded, OutputPath: res.Artifact})
	executed := 0
	for _, s := range res.Stages {
		if !s.Skipped {
			executed++
		}
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("output", res.Artifact),
		logging.Int("stages_run", executed),
		logging.Int("drifted_segments", len(res.Drifted)),
		logging.Int("locked_segments", len(res.Locked)),
		logging.Duration("elapsed", elapsed))
	if len(res.Deferred) > 0 {
		logging.WarnWithContext(logger, "segments skipped while an operator held them", "segments_deferred",
			logging.Int("count", len(res.Deferred)),
			logging.String(logging.FieldImpact, "those segments keep their previous version"),
			logging.String(logging.FieldErrorHint, "rerun the job once review finishes"))
	}
	m.notifyJobCompleted(ctx, job, res)
}

func (m *Manager) finish(ctx context.Context, logger *slog.Logger, job *queue.Job, outcome queue.Outcome) {
	if err := m.store.Finish(ctx, job.ID, outcome); err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to persist job outcome", "job_persist_failed",
			logging.Error(err),
			logging.String("status", string(outcome.Status)),
			logging.String(logging.FieldErrorHint, "check queue database access"))
	}
	job.Status = outcome.Status
	job.ErrorKind = outcome.ErrorKind
	job.ErrorMessage = outcome.ErrorMessage
	if outcome.OutputPath != "" {
		job.OutputPath = outcome.OutputPath
	}
	m.setLastJob(job)
}

// jobLogger returns a logger writing to both the manager log and the job's
// own log file when one can be opened.
func (m *Manager) jobLogger(ctx context.Context, job *queue.Job) (*slog.Logger, func()) {
	base := m.logger.With(logging.String("source_file", strings.TrimSpace(job.DisplayName())))
	if m.jobLogs == nil {
		return logging.WithContext(ctx, base), func() {}
	}
	handler, closeFn, err := m.jobLogs.Open(job)
	if err != nil {
		base.Warn("job log unavailable", logging.Error(err))
		return logging.WithContext(ctx, base), func() {}
	}
	fileLogger := slog.New(handler).With(
		logging.String(logging.FieldComponent, "workflow-manager"),
		logging.String("source_file", strings.TrimSpace(job.DisplayName())))
	tee := slog.New(slog.NewMultiHandler(base.Handler(), fileLogger.Handler()))
	return logging.WithContext(ctx, tee), closeFn
}
