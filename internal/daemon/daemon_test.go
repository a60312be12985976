package daemon_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"dubforge/internal/config"
	"dubforge/internal/daemon"
	"dubforge/internal/manifest"
	"dubforge/internal/pipeline"
	"dubforge/internal/testsupport"
	"dubforge/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	ledger := testsupport.MustOpenLedger(t, cfg)
	engines := testsupport.NewEngines(testsupport.Turns(2)...)
	exec := pipeline.New(cfg, manifest.NewStore(cfg.ManifestDir(), nil), ledger, engines.Collaborators(), nil)
	d, err := daemon.New(cfg, workflow.NewManager(cfg, store, exec, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg", "ffprobe", "uvx"))
	d := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected daemon to report running: %+v", status)
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other := newDaemon(t, cfg)
	if err := other.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning from second orchestrator, got %v", err)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock not released on stop: %v", err)
	}
}

func TestDaemonStartFailsPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("PATH", t.TempDir())
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected preflight failure without ffmpeg")
	}
	if d.Running() {
		t.Fatal("daemon running after failed preflight")
	}
	lock, err := daemon.AcquireLock(cfg.LockPath())
	if err != nil {
		t.Fatalf("lock held after failed start: %v", err)
	}
	_ = lock.Release()
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/state/dubforge.lock"
	lock, err := daemon.AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if _, err := daemon.AcquireLock(path); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected contention error, got %v", err)
	}
}

func TestNotificationWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	d := newDaemon(t, cfg)
	ok, msg, err := d.TestNotification(context.Background())
	if ok || err != nil || msg != "ntfy topic not configured" {
		t.Fatalf("unexpected result: %v %q %v", ok, msg, err)
	}
}
