package testsupport

import (
	"context"
	"testing"

	"dubforge/internal/config"
	"dubforge/internal/ledger"
	"dubforge/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenLedger opens the review ledger for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Ledger {
	t.Helper()

	l, err := ledger.Open(cfg, nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

// NewJob enqueues a job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, source string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), source, "")
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
