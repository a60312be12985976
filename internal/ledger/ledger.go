package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/keymutex"
	"dubforge/internal/logging"
	"dubforge/internal/services"
	"dubforge/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 2

type segmentKey struct {
	job   int64
	index int
}

// Ledger persists segments and versions in review.db.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	locks  keymutex.Map[segmentKey]
	// claimTTL bounds cross-process segment claims.
	claimTTL time.Duration
}

// Open connects to the review database configured in cfg.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(context.Background(), cfg.ReviewDBPath(), logger, opts...)
}

// OpenPath connects to the review database at path.
func OpenPath(ctx context.Context, path string, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "review", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Ledger{db: db, path: path, logger: logging.NewComponentLogger(logger, "ledger"), claimTTL: DefaultClaimTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

const segmentColumns = "job_id, idx, start_seconds, end_seconds, speaker, source_text, target_text, current_version, locked, revision, updated_at"

const versionColumns = "job_id, idx, version, text, audio_path, synth_key, actions, stretch, drift, created_at, created_by"

type rowScanner interface{ Scan(dest ...any) error }

func scanSegment(row rowScanner) (Segment, error) {
	var (
		seg                     Segment
		speaker, source, target sql.NullString
		locked                  int64
		updated                 string
	)
	if err := row.Scan(&seg.JobID, &seg.Index, &seg.Start, &seg.End, &speaker, &source, &target,
		&seg.CurrentVersion, &locked, &seg.Revision, &updated); err != nil {
		return Segment{}, err
	}
	seg.Speaker = speaker.String
	seg.SourceText = source.String
	seg.TargetText = target.String
	seg.Locked = locked != 0
	if t, err := sqlitedb.ParseTime(updated); err == nil {
		seg.UpdatedAt = t
	}
	return seg, nil
}

func scanVersion(row rowScanner) (Version, error) {
	var (
		v                   Version
		audio, key, actions sql.NullString
		drift               int64
		created             string
	)
	if err := row.Scan(&v.JobID, &v.Index, &v.Number, &v.Text, &audio, &key, &actions,
		&v.Stretch, &drift, &created, &v.CreatedBy); err != nil {
		return Version{}, err
	}
	v.AudioPath = audio.String
	v.SynthKey = key.String
	v.Drift = drift != 0
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &v.Actions); err != nil {
			return Version{}, fmt.Errorf("decode actions for segment %d v%d: %w", v.Index, v.Number, err)
		}
	}
	if t, err := sqlitedb.ParseTime(created); err == nil {
		v.CreatedAt = t
	}
	return v, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSegment(ctx context.Context, q querier, job int64, index int) (Segment, error) {
	seg, err := scanSegment(q.QueryRowContext(ctx,
		"SELECT "+segmentColumns+" FROM segments WHERE job_id = ? AND idx = ?", job, index))
	if errors.Is(err, sql.ErrNoRows) {
		return Segment{}, fmt.Errorf("%w: job %d segment %d", services.ErrNotFound, job, index)
	}
	return seg, err
}

func getVersion(ctx context.Context, q querier, job int64, index, number int) (Version, error) {
	v, err := scanVersion(q.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE job_id = ? AND idx = ? AND version = ?", job, index, number))
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, fmt.Errorf("%w: job %d segment %d version %d", services.ErrNotFound, job, index, number)
	}
	return v, err
}

// Segment returns one segment.
func (l *Ledger) Segment(ctx context.Context, job int64, index int) (Segment, error) {
	return getSegment(ctx, l.db, job, index)
}

// Segments returns every segment of job in index order.
func (l *Ledger) Segments(ctx context.Context, job int64) ([]Segment, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT "+segmentColumns+" FROM segments WHERE job_id = ? ORDER BY idx", job)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// CurrentVersion returns the current version number, 0 when none exists yet.
func (l *Ledger) CurrentVersion(ctx context.Context, job int64, index int) (int, error) {
	seg, err := l.Segment(ctx, job, index)
	if err != nil {
		return 0, err
	}
	return seg.CurrentVersion, nil
}

// Current returns the segment with its current version. The version is the
// zero value when the segment has none yet.
func (l *Ledger) Current(ctx context.Context, job int64, index int) (Segment, Version, error) {
	seg, err := l.Segment(ctx, job, index)
	if err != nil || seg.CurrentVersion == 0 {
		return seg, Version{}, err
	}
	v, err := getVersion(ctx, l.db, job, index, seg.CurrentVersion)
	return seg, v, err
}

// History lists every version of a segment, oldest first.
func (l *Ledger) History(ctx context.Context, job int64, index int) ([]Version, error) {
	if _, err := l.Segment(ctx, job, index); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE job_id = ? AND idx = ? ORDER BY version", job, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReviewState returns the per-segment version/lock map of job.
func (l *Ledger) ReviewState(ctx context.Context, job int64) (ReviewState, error) {
	segs, err := l.Segments(ctx, job)
	if err != nil {
		return nil, err
	}
	state := make(ReviewState, len(segs))
	for _, seg := range segs {
		state[seg.Index] = SegmentState{Version: seg.CurrentVersion, Locked: seg.Locked}
	}
	return state, nil
}

// StateDigest summarizes the operator-controlled state of every segment
// (index, revision, lock). Pipeline writes do not change it.
func (l *Ledger) StateDigest(ctx context.Context, job int64) (string, error) {
	segs, err := l.Segments(ctx, job)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, seg := range segs {
		fmt.Fprintf(&b, "%d:%d:%t;", seg.Index, seg.Revision, seg.Locked)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Purge deletes every segment and version of job.
func (l *Ledger) Purge(ctx context.Context, job int64) error {
	return sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM segment_claims WHERE job_id = ?", job); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE job_id = ?", job); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE job_id = ?", job)
		return err
	})
}

func now() string {
	return sqlitedb.FormatTime(time.Now())
}
