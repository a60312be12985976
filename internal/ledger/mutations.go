package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dubforge/internal/logging"
	"dubforge/internal/services"
	"dubforge/internal/sqlitedb"
)

// ErrVersionNotCurrent is returned when Lock names a version other than the current one.
var ErrVersionNotCurrent = errors.New("version is not current")

func (l *Ledger) tryLock(job int64, index int) (func(), error) {
	unlock, ok := l.locks.TryLock(segmentKey{job, index})
	if !ok {
		return nil, fmt.Errorf("%w: job %d segment %d has a write in flight", services.ErrSegmentBusy, job, index)
	}
	return unlock, nil
}

func lockedError(job int64, index, version int) error {
	return fmt.Errorf("%w: job %d segment %d is locked at version %d", services.ErrSegmentLocked, job, index, version)
}

// insertVersion appends version current+1 and makes it current. The caller
// holds the segment key and runs inside tx.
func insertVersion(ctx context.Context, tx *sql.Tx, seg Segment, v Version, bumpRevision bool) (Version, error) {
	var maxVersion int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM versions WHERE job_id = ? AND idx = ?", seg.JobID, seg.Index).Scan(&maxVersion); err != nil {
		return Version{}, fmt.Errorf("next version: %w", err)
	}
	v.JobID = seg.JobID
	v.Index = seg.Index
	v.Number = maxVersion + 1
	if v.Stretch == 0 {
		v.Stretch = 1
	}
	var actions any
	if len(v.Actions) > 0 {
		data, err := json.Marshal(v.Actions)
		if err != nil {
			return Version{}, fmt.Errorf("encode actions: %w", err)
		}
		actions = string(data)
	}
	stamp := now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (job_id, idx, version, text, audio_path, synth_key, actions, stretch, drift, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.JobID, v.Index, v.Number, v.Text,
		sqlitedb.NullableString(v.AudioPath),
		sqlitedb.NullableString(v.SynthKey),
		actions, v.Stretch, sqlitedb.BoolToInt(v.Drift), stamp, v.CreatedBy,
	); err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	revision := seg.Revision
	if bumpRevision {
		revision++
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE segments SET target_text = ?, current_version = ?, revision = ?, updated_at = ?
		 WHERE job_id = ? AND idx = ?`,
		v.Text, v.Number, revision, stamp, seg.JobID, seg.Index,
	); err != nil {
		return Version{}, fmt.Errorf("advance segment: %w", err)
	}
	if created, err := sqlitedb.ParseTime(stamp); err == nil {
		v.CreatedAt = created
	}
	return v, nil
}

// Edit records new text for a segment as version N+1 without synthesizing.
func (l *Ledger) Edit(ctx context.Context, job int64, index int, text, actor string) (Version, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Version{}, fmt.Errorf("%w: edit text is empty", services.ErrFatalInput)
	}
	unlock, err := l.tryLock(job, index)
	if err != nil {
		return Version{}, err
	}
	defer unlock()

	var created Version
	err = sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		seg, err := getSegment(ctx, tx, job, index)
		if err != nil {
			return err
		}
		if seg.Locked {
			return lockedError(job, index, seg.CurrentVersion)
		}
		created, err = insertVersion(ctx, tx, seg, Version{Text: text, CreatedBy: actorOr(actor, ActorOperator)}, true)
		return err
	})
	if err != nil {
		return Version{}, err
	}
	l.logVersion(ctx, "segment edited", created)
	return created, nil
}

// Regen resynthesizes the segment's current text through synth and records
// the result as version N+1. The segment is not locked afterwards. Only one
// regen may be in flight per segment, across every process sharing the
// database; later callers get ErrSegmentBusy before synth is called.
// A synth failure leaves the prior version current.
func (l *Ledger) Regen(ctx context.Context, job int64, index int, actor string, synth SynthFunc) (Version, error) {
	if synth == nil {
		return Version{}, fmt.Errorf("%w: regen requires a synthesizer", services.ErrConfiguration)
	}
	unlock, err := l.tryLock(job, index)
	if err != nil {
		return Version{}, err
	}
	defer unlock()
	release, err := l.Claim(ctx, job, index, "regen by "+actorOr(actor, ActorOperator))
	if err != nil {
		return Version{}, err
	}
	defer release()

	seg, current, err := l.Current(ctx, job, index)
	if err != nil {
		return Version{}, err
	}
	if seg.Locked {
		return Version{}, lockedError(job, index, seg.CurrentVersion)
	}
	if current.Number == 0 || strings.TrimSpace(current.Text) == "" {
		return Version{}, fmt.Errorf("%w: job %d segment %d has no text to synthesize", services.ErrFatalInput, job, index)
	}

	gen, err := synth(services.WithSegment(ctx, index), seg, current)
	if err != nil {
		return Version{}, services.NewStageError("regen", index, err)
	}
	if gen.Text == "" {
		gen.Text = current.Text
	}

	var created Version
	err = sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		fresh, err := getSegment(ctx, tx, job, index)
		if err != nil {
			return err
		}
		if fresh.Locked {
			return lockedError(job, index, fresh.CurrentVersion)
		}
		if fresh.CurrentVersion != current.Number {
			return fmt.Errorf("%w: job %d segment %d moved to version %d during regen", services.ErrSegmentBusy, job, index, fresh.CurrentVersion)
		}
		created, err = insertVersion(ctx, tx, fresh, generatedVersion(gen, actorOr(actor, ActorOperator)), true)
		return err
	})
	if err != nil {
		return Version{}, err
	}
	l.logVersion(ctx, "segment regenerated", created)
	return created, nil
}

// Lock freezes the segment at version, which must be the current one.
// Locking an already locked segment at its current version is a no-op.
func (l *Ledger) Lock(ctx context.Context, job int64, index, version int) error {
	unlock := l.locks.Lock(segmentKey{job, index})
	defer unlock()

	return sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		seg, err := getSegment(ctx, tx, job, index)
		if err != nil {
			return err
		}
		if seg.CurrentVersion == 0 || seg.CurrentVersion != version {
			return fmt.Errorf("%w: job %d segment %d current is %d, not %d", ErrVersionNotCurrent, job, index, seg.CurrentVersion, version)
		}
		if seg.Locked {
			return nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE segments SET locked = 1, updated_at = ? WHERE job_id = ? AND idx = ?", now(), job, index)
		return err
	})
}

// Unlock clears the lock flag.
func (l *Ledger) Unlock(ctx context.Context, job int64, index int) error {
	unlock := l.locks.Lock(segmentKey{job, index})
	defer unlock()

	return sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		if _, err := getSegment(ctx, tx, job, index); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE segments SET locked = 0, updated_at = ? WHERE job_id = ? AND idx = ?", now(), job, index)
		return err
	})
}

func generatedVersion(gen Generated, actor string) Version {
	return Version{
		Text:      gen.Text,
		AudioPath: gen.AudioPath,
		SynthKey:  gen.SynthKey,
		Actions:   gen.Actions,
		Stretch:   gen.Stretch,
		Drift:     gen.Drift,
		CreatedBy: actor,
	}
}

func actorOr(actor, fallback string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return fallback
	}
	return actor
}

func (l *Ledger) logVersion(ctx context.Context, msg string, v Version) {
	logging.WithContext(services.WithSegment(services.WithJobID(ctx, v.JobID), v.Index), l.logger).Info(msg,
		logging.String(logging.FieldEventType, "segment_version_created"),
		logging.Int("version", v.Number),
		logging.String("created_by", v.CreatedBy),
		logging.Bool("has_audio", v.HasAudio()))
}
