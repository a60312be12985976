package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dubforge/internal/config"
	"dubforge/internal/logging"
	"dubforge/internal/notifications"
	"dubforge/internal/workflow"
)

// Daemon runs the workflow manager in serve mode under the orchestrator lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	notifier notifications.Service

	mu   sync.Mutex
	lock *Lock
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon around an existing workflow manager.
func New(cfg *config.Config, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		notifier: notifications.NewService(cfg),
	}, nil
}

// Start acquires the orchestrator lock, runs preflight, and starts the
// workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lock != nil {
		return errors.New("daemon already running")
	}

	lock, err := AcquireLock(d.cfg.LockPath())
	if err != nil {
		return err
	}
	if err := d.workflow.Preflight(); err != nil {
		_ = lock.Release()
		return fmt.Errorf("preflight: %w", err)
	}
	if err := d.workflow.Start(ctx); err != nil {
		_ = lock.Release()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.lock = lock
	d.logger.Info("dubforge daemon started",
		logging.String("lock", lock.Path()),
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

// Stop stops background processing and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lock == nil {
		return
	}
	d.workflow.Stop()
	if err := d.lock.Release(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.lock = nil
	d.logger.Info("dubforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lock != nil
}

// TestNotification sends a test message through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.Running(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.cfg.LockPath(),
	}
}
