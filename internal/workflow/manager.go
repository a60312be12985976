package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/logging"
	"dubforge/internal/notifications"
	"dubforge/internal/pipeline"
	"dubforge/internal/queue"
)

// Runner executes the stage graph for one job.
type Runner interface {
	RunJob(ctx context.Context, job *queue.Job, opts pipeline.RunOptions) (pipeline.Result, error)
}

// Manager owns the worker pool that moves queued jobs through the pipeline.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	runner       Runner
	logger       *slog.Logger
	notifier     notifications.Service
	jobLogs      *JobLogs
	heartbeat    *HeartbeatMonitor
	pollInterval time.Duration

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastJob  *queue.Job
	recovery sync.Once
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier replaces the notifier built from config.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithJobLogs writes each job's log lines to its own file as well.
func WithJobLogs(logs *JobLogs) ManagerOption {
	return func(m *Manager) {
		m.jobLogs = logs
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, runner Runner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow-manager")
	m := &Manager{
		cfg:          cfg,
		store:        store,
		runner:       runner,
		logger:       logger,
		notifier:     notifications.NewService(cfg),
		pollInterval: cfg.PollInterval(),
		heartbeat:    NewHeartbeatMonitor(store, logger, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) workerCount() int {
	if n := m.cfg.Workflow.MaxConcurrentJobs; n > 0 {
		return n
	}
	return 1
}

// recoverInterrupted requeues jobs left running by a previous process. It runs
// once per manager; callers hold the orchestrator lock.
func (m *Manager) recoverInterrupted(ctx context.Context) {
	m.recovery.Do(func() {
		n, err := m.store.ResetStuckRunning(ctx)
		if err != nil {
			logging.WarnWithContext(m.logger, "could not reset interrupted jobs", "queue_recovery_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "jobs from an interrupted run stay marked running"),
				logging.String(logging.FieldErrorHint, "check queue database access"))
			return
		}
		if n > 0 {
			m.logger.Info("requeued interrupted jobs", logging.Int64("count", n))
		}
	})
}
