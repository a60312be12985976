package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dubforge/internal/fileutil"
	"dubforge/internal/keymutex"
	"dubforge/internal/logging"
	"dubforge/internal/services"
)

// Status describes whether a manifest may still be trusted.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusStale     Status = "stale"
)

// Reasons recorded when a manifest goes stale.
const (
	// StaleInvalidated means an operator asked for the stage to be redone.
	StaleInvalidated = "invalidated"
	// StaleUpstream means an earlier stage reran with new inputs.
	StaleUpstream = "upstream_changed"
)

// Manifest is the persisted completion record of one stage.
type Manifest struct {
	JobID       int64    `json:"job_id"`
	Stage       Stage    `json:"stage"`
	Fingerprint string   `json:"fingerprint"`
	Outputs     []string `json:"outputs"`
	// Segments holds the fingerprint each segment was processed under.
	Segments map[int]string `json:"segments,omitempty"`
	// Pinned holds locked segments that were carried forward untouched.
	Pinned      map[int]string `json:"pinned,omitempty"`
	Status      Status         `json:"status"`
	CompletedAt time.Time      `json:"completed_at"`
	StaleAt     *time.Time     `json:"stale_at,omitempty"`
	StaleReason string         `json:"stale_reason,omitempty"`
}

// Matches reports whether the manifest is completed under fingerprint and
// every recorded output is still on disk.
func (m *Manifest) Matches(fingerprint string) bool {
	if m == nil || m.Status != StatusCompleted || m.Fingerprint != fingerprint {
		return false
	}
	for _, out := range m.Outputs {
		if !fileutil.Exists(out) {
			return false
		}
	}
	return true
}

// Reusable reports whether the per-segment fingerprints of m may still be
// trusted. Only an explicit invalidation discards them.
func (m *Manifest) Reusable() bool {
	if m == nil {
		return false
	}
	return m.Status == StatusCompleted || m.StaleReason == StaleUpstream
}

// SegmentPrint returns the recorded fingerprint of segment index, pinned or processed.
func (m *Manifest) SegmentPrint(index int) (string, bool) {
	if m == nil {
		return "", false
	}
	if fp, ok := m.Pinned[index]; ok {
		return fp, true
	}
	fp, ok := m.Segments[index]
	return fp, ok
}

// Record is the input to RecordCompletion.
type Record struct {
	Fingerprint string
	Outputs     []string
	Segments    map[int]string
	Pinned      map[int]string
}

type stageKey struct {
	job   int64
	stage Stage
}

// Store is a file-backed key-value ledger of stage manifests.
type Store struct {
	dir    string
	logger *slog.Logger
	locks  keymutex.Map[stageKey]
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{dir: dir, logger: logging.NewComponentLogger(logger, "manifest")}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) jobDir(job int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(job, 10))
}

func (s *Store) path(job int64, stage Stage) string {
	return filepath.Join(s.jobDir(job), string(stage)+".json")
}

// RecordCompletion publishes a completed manifest. Every output must exist.
func (s *Store) RecordCompletion(ctx context.Context, job int64, stage Stage, rec Record) (*Manifest, error) {
	if rec.Fingerprint == "" {
		return nil, fmt.Errorf("record %s: empty fingerprint", stage)
	}
	for _, out := range rec.Outputs {
		if !fileutil.Exists(out) {
			return nil, services.Wrap(services.ErrFatalInput, string(stage), "record manifest", "output missing: "+out, nil)
		}
	}
	unlock := s.locks.Lock(stageKey{job, stage})
	defer unlock()

	m := &Manifest{
		JobID:       job,
		Stage:       stage,
		Fingerprint: rec.Fingerprint,
		Outputs:     append([]string{}, rec.Outputs...),
		Segments:    copyPrints(rec.Segments),
		Pinned:      copyPrints(rec.Pinned),
		Status:      StatusCompleted,
		CompletedAt: time.Now().UTC(),
	}
	if err := fileutil.WriteJSONAtomic(s.path(job, stage), m); err != nil {
		return nil, fmt.Errorf("write %s manifest: %w", stage, err)
	}
	logging.WithContext(ctx, s.logger).Debug("stage manifest recorded",
		logging.String(logging.FieldStage, string(stage)),
		logging.String("fingerprint", rec.Fingerprint),
		logging.Int("outputs", len(rec.Outputs)),
		logging.Int("segments", len(rec.Segments)),
		logging.Int("pinned", len(rec.Pinned)))
	return m, nil
}

func copyPrints(in map[int]string) map[int]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Lookup returns the manifest for (job, stage), or nil when none exists.
// Unreadable documents are reported as ErrManifestCorruption.
func (s *Store) Lookup(_ context.Context, job int64, stage Stage) (*Manifest, error) {
	unlock := s.locks.Lock(stageKey{job, stage})
	defer unlock()
	return s.read(job, stage)
}

func (s *Store) read(job int64, stage Stage) (*Manifest, error) {
	data, err := os.ReadFile(s.path(job, stage))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s manifest: %w", stage, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, services.Wrap(services.ErrManifestCorruption, string(stage), "decode manifest", "", err)
	}
	if m.Stage != stage || m.JobID != job || (m.Status != StatusCompleted && m.Status != StatusStale) {
		return nil, services.Wrap(services.ErrManifestCorruption, string(stage), "decode manifest", "inconsistent manifest identity", nil)
	}
	return &m, nil
}

// IsUpToDate reports whether the stage may be skipped. Corrupt manifests are
// never trusted.
func (s *Store) IsUpToDate(ctx context.Context, job int64, stage Stage, fingerprint string) bool {
	m, err := s.Lookup(ctx, job, stage)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "stage manifest unreadable", "manifest_corrupt",
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the stage will be regenerated"))
		return false
	}
	return m.Matches(fingerprint)
}

// Invalidate marks stage stale at operator request and every later stage
// stale as superseded. Artifacts are kept.
func (s *Store) Invalidate(ctx context.Context, job int64, stage Stage) ([]Stage, error) {
	return s.invalidate(ctx, job, stage, StaleInvalidated)
}

// Supersede marks stage and every later stage stale because their inputs
// changed. Segment fingerprints stay reusable.
func (s *Store) Supersede(ctx context.Context, job int64, stage Stage) ([]Stage, error) {
	return s.invalidate(ctx, job, stage, StaleUpstream)
}

func (s *Store) invalidate(ctx context.Context, job int64, stage Stage, reason string) ([]Stage, error) {
	affected := Downstream(stage)
	if affected == nil {
		return nil, services.Wrap(services.ErrNotFound, string(stage), "invalidate", "unknown stage", nil)
	}
	var marked []Stage
	now := time.Now().UTC()
	for _, st := range affected {
		why := StaleUpstream
		if st == stage {
			why = reason
		}
		done, err := s.markStale(job, st, now, why)
		if err != nil {
			return marked, err
		}
		if done {
			marked = append(marked, st)
		}
	}
	if len(marked) > 0 {
		logging.WithContext(ctx, s.logger).Info("stage manifests invalidated",
			logging.String(logging.FieldStage, string(stage)),
			logging.String("reason", reason),
			logging.Int("affected", len(marked)))
	}
	return marked, nil
}

func (s *Store) markStale(job int64, stage Stage, now time.Time, reason string) (bool, error) {
	unlock := s.locks.Lock(stageKey{job, stage})
	defer unlock()
	m, err := s.read(job, stage)
	if errors.Is(err, services.ErrManifestCorruption) {
		// A corrupt manifest is already untrusted; drop it so the stage reruns.
		return true, os.Remove(s.path(job, stage))
	}
	if err != nil || m == nil {
		return false, err
	}
	if m.Status == StatusStale && (m.StaleReason == reason || reason == StaleUpstream) {
		return false, nil
	}
	m.Status = StatusStale
	m.StaleAt = &now
	m.StaleReason = reason
	if err := fileutil.WriteJSONAtomic(s.path(job, stage), m); err != nil {
		return false, fmt.Errorf("mark %s stale: %w", stage, err)
	}
	return true, nil
}

// StageStatus is one row of the per-job listing.
type StageStatus struct {
	Stage    Stage
	Manifest *Manifest
	Err      error
}

// Stages lists every stage with its manifest, if any.
func (s *Store) Stages(ctx context.Context, job int64) []StageStatus {
	out := make([]StageStatus, 0, len(stageOrder))
	for _, st := range stageOrder {
		m, err := s.Lookup(ctx, job, st)
		out = append(out, StageStatus{Stage: st, Manifest: m, Err: err})
	}
	return out
}

// Purge removes every manifest for job.
func (s *Store) Purge(_ context.Context, job int64) error {
	if err := os.RemoveAll(s.jobDir(job)); err != nil {
		return fmt.Errorf("purge manifests: %w", err)
	}
	return nil
}
