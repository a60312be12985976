package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dubforge/internal/services"
	"dubforge/internal/sqlitedb"
)

// UpsertSegments registers diarized turns. Indices already present keep their
// recorded bounds and speaker. Returns every segment of job.
func (l *Ledger) UpsertSegments(ctx context.Context, job int64, turns []Bounds) ([]Segment, error) {
	for _, t := range turns {
		if t.Index < 0 || t.End < t.Start {
			return nil, fmt.Errorf("%w: invalid bounds for segment %d (%.3f-%.3f)", services.ErrFatalInput, t.Index, t.Start, t.End)
		}
	}
	stamp := now()
	err := sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		for _, t := range turns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO segments (job_id, idx, start_seconds, end_seconds, speaker, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(job_id, idx) DO NOTHING`,
				job, t.Index, t.Start, t.End, sqlitedb.NullableString(t.Speaker), stamp,
			); err != nil {
				return fmt.Errorf("upsert segment %d: %w", t.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l.Segments(ctx, job)
}

// SetSourceText stores the transcript of a segment. Locked segments are left
// untouched and report false.
func (l *Ledger) SetSourceText(ctx context.Context, job int64, index int, text string) (bool, error) {
	unlock := l.locks.Lock(segmentKey{job, index})
	defer unlock()

	applied := false
	err := sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		seg, err := getSegment(ctx, tx, job, index)
		if err != nil {
			return err
		}
		if seg.Locked {
			return nil
		}
		applied = true
		_, err = tx.ExecContext(ctx, "UPDATE segments SET source_text = ?, updated_at = ? WHERE job_id = ? AND idx = ?",
			strings.TrimSpace(text), now(), job, index)
		return err
	})
	return applied, err
}

// ProposeText offers pipeline-produced target text. A text-only version is
// created when the segment is unlocked and the text differs from the current
// version; otherwise the current version is returned unchanged with created=false.
func (l *Ledger) ProposeText(ctx context.Context, job int64, index int, text string) (Version, bool, error) {
	text = strings.TrimSpace(text)
	unlock, err := l.tryLock(job, index)
	if err != nil {
		return Version{}, false, err
	}
	defer unlock()

	var (
		result  Version
		created bool
	)
	err = sqlitedb.InTx(ctx, l.db, func(tx *sql.Tx) error {
		seg, err := getSegment(ctx, tx, job, index)
		if err != nil {
			return err
		}
		if seg.CurrentVersion > 0 {
			current, err := getVersion(ctx, tx, job, index, seg.CurrentVersion)
			if err != nil {
				return err
			}
			if seg.Locked || current.Text == text {
				result = current
				return nil
			}
		} else if seg.Locked {
			return nil
		}
		result, err = insertVersion(ctx, tx, seg, Version{Text: text, CreatedBy: ActorPipeline}, false)
		created = err == nil
		return err
	})
	if err != nil {
		return Version{}, false, err
	}
	return result, created, nil
}

// CommitGenerated records pipeline-synthesized audio as version N+1.
func (l *Ledger) CommitGenerated(ctx context.Context, job int64, index int, gen Generated) (Version, error) {
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
		if seg.CurrentVersion != gen.Base {
			return fmt.Errorf("%w: job %d segment %d moved to version %d during synthesis", services.ErrSegmentBusy, job, index, seg.CurrentVersion)
		}
		created, err = insertVersion(ctx, tx, seg, generatedVersion(gen, ActorPipeline), false)
		return err
	})
	if err != nil {
		return Version{}, err
	}
	return created, nil
}
