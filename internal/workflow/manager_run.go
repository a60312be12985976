package workflow

import (
	"context"
	"errors"
	"time"

	"dubforge/internal/logging"
	"dubforge/internal/queue"
)

// Start begins background processing for serve mode. Workers poll the queue
// until Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.runner == nil {
		m.mu.Unlock()
		return errors.New("workflow runner not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	workers := m.workerCount()
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	m.recoverInterrupted(runCtx)
	m.logger.Info("workflow started", logging.Int("workers", workers))
	for i := 0; i < workers; i++ {
		go m.serveWorker(runCtx)
	}
	go m.reclaimLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for workers to return.
// Jobs interrupted by Stop stay running in the queue and are requeued on the
// next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) serveWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, err)
			continue
		}
		if job == nil {
			m.wait(ctx, m.pollInterval)
			continue
		}
		m.processJob(ctx, job, false)
	}
}

func (m *Manager) reclaimLoop(ctx context.Context) {
	defer m.wg.Done()
	interval := m.cfg.HeartbeatInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat.ReclaimStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(m.logger, "reclaim stale jobs failed", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "stuck jobs may stay running"),
					logging.String(logging.FieldErrorHint, "check queue database access"))
			}
		}
	}
}

// Drain processes queued jobs with the worker pool until the queue is empty,
// then reports the outcome of ids. Cancelling ctx interrupts running jobs at
// their next stage or segment boundary and marks them cancelled.
func (m *Manager) Drain(ctx context.Context, ids []int64) (BatchReport, error) {
	if m.runner == nil {
		return BatchReport{}, errors.New("workflow runner not configured")
	}
	started := time.Now()
	m.recoverInterrupted(ctx)

	workers := m.workerCount()
	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for ctx.Err() == nil {
				job, err := m.store.ClaimNext(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						m.handleClaimError(ctx, err)
					}
					return
				}
				if job == nil {
					return
				}
				m.processJob(ctx, job, true)
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	report, err := m.Report(context.WithoutCancel(ctx), ids)
	if err != nil {
		return report, err
	}
	report.Duration = time.Since(started)
	return report, nil
}

func (m *Manager) handleClaimError(ctx context.Context, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, "failed to claim next job", "queue_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"))
	m.wait(ctx, m.pollInterval)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Cancel cancels a queued job immediately or asks a running one to stop at
// its next stage or segment boundary.
func (m *Manager) Cancel(ctx context.Context, id int64) (queue.Status, error) {
	status, err := m.store.RequestCancel(ctx, id)
	if err != nil {
		return "", err
	}
	m.logger.Info("job cancel requested",
		logging.Int64(logging.FieldJobID, id),
		logging.String("status", string(status)))
	return status, nil
}

// CancelAll cancels every queued and running job and returns how many were
// affected.
func (m *Manager) CancelAll(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx, queue.StatusQueued, queue.StatusRunning)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, job := range jobs {
		if _, err := m.Cancel(ctx, job.ID); err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}
