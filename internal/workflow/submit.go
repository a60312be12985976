package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/logging"
	"dubforge/internal/queue"
	"dubforge/internal/services"
)

var mediaExtensions = []string{".mkv", ".mp4", ".m4v", ".mov", ".avi", ".webm", ".ts", ".wav", ".mp3", ".flac", ".m4a"}

// IsMediaFile reports whether path has a recognized media extension.
func IsMediaFile(path string) bool {
	return slices.Contains(mediaExtensions, strings.ToLower(filepath.Ext(path)))
}

// Submit enqueues one source file.
func (m *Manager) Submit(ctx context.Context, source, batchLabel string) (*queue.Job, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "submit", "stat source", abs, err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrFatalInput, "submit", "stat source", abs+" is a directory", nil)
	}
	job, err := m.store.NewJob(ctx, abs, batchLabel)
	if err != nil {
		return nil, err
	}
	m.logger.Info("job queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("source", abs),
		logging.String("batch", batchLabel))
	return job, nil
}

// Enqueue returns the job that should dub source: the newest job for the same
// path, requeued whatever its status, or a new job when none exists. Reusing
// the job keeps its manifests and ledger, so completed stages skip on their
// fingerprints and a rerun of finished work makes no external calls. A
// non-empty batchLabel moves the job into that batch. Callers hold the
// orchestrator lock, so a job still marked running was orphaned by a crash.
func (m *Manager) Enqueue(ctx context.Context, source, batchLabel string) (*queue.Job, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	job, err := m.store.LatestForSource(ctx, abs)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return m.Submit(ctx, abs, batchLabel)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, services.Wrap(services.ErrNotFound, "submit", "stat source", abs, err)
	}
	previous := job.Status
	if batchLabel != "" {
		job.BatchLabel = batchLabel
	}
	if job.Status != queue.StatusQueued {
		job.Status = queue.StatusQueued
		job.ErrorKind, job.ErrorMessage = "", ""
		job.CompletedAt = nil
	}
	job.CancelRequested = false
	if err := m.store.Update(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Info("job requeued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("source", abs),
		logging.String("previous_status", string(previous)),
		logging.String("batch", job.BatchLabel))
	return job, nil
}

// SubmitBatch enqueues every media file matched by pattern, which is either a
// directory (walked recursively) or a glob, reusing earlier jobs for the same
// files through Enqueue. The returned label groups the jobs.
func (m *Manager) SubmitBatch(ctx context.Context, pattern string) (string, []*queue.Job, error) {
	files, err := MatchMedia(pattern)
	if err != nil {
		return "", nil, err
	}
	if len(files) == 0 {
		return "", nil, services.Wrap(services.ErrNotFound, "submit", "match media", "no media files match "+pattern, nil)
	}
	label := NewBatchLabel()
	jobs := make([]*queue.Job, 0, len(files))
	for _, f := range files {
		job, err := m.Enqueue(ctx, f, label)
		if err != nil {
			return label, jobs, err
		}
		jobs = append(jobs, job)
	}
	return label, jobs, nil
}

// NewBatchLabel returns a sortable, unique batch label.
func NewBatchLabel() string {
	return fmt.Sprintf("batch-%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// MatchMedia expands pattern into sorted media file paths.
func MatchMedia(pattern string) ([]string, error) {
	if info, err := os.Stat(pattern); err == nil && info.IsDir() {
		var files []string
		err := filepath.WalkDir(pattern, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsMediaFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", pattern, err)
		}
		slices.Sort(files)
		return files, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "submit", "glob", "invalid pattern "+pattern, err)
	}
	files := matches[:0]
	for _, path := range matches {
		if info, err := os.Stat(path); err == nil && !info.IsDir() && IsMediaFile(path) {
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files, nil
}
