package ledger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/logging"
	"dubforge/internal/services"
	"dubforge/internal/sqlitedb"
)

// DefaultClaimTTL is how long a claim survives a holder that died without
// releasing it.
const DefaultClaimTTL = 30 * time.Minute

// Option configures a Ledger.
type Option func(*Ledger)

// WithClaimTTL overrides DefaultClaimTTL.
func WithClaimTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.claimTTL = ttl
		}
	}
}

// Claim reserves a segment for one synthesis. The claim lives in review.db,
// so it excludes holders in other processes sharing the database as well as
// this one. A segment already claimed yields ErrSegmentBusy. The returned
// release must run once the result is committed or abandoned.
func (l *Ledger) Claim(ctx context.Context, job int64, index int, owner string) (func(), error) {
	token := uuid.NewString()
	holder := fmt.Sprintf("%s (pid %d)", owner, os.Getpid())
	claimed := false
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		now := time.Now()
		if _, err := l.db.ExecContext(ctx,
			"DELETE FROM segment_claims WHERE job_id = ? AND idx = ? AND expires_unix < ?",
			job, index, now.UnixNano()); err != nil {
			return err
		}
		res, err := l.db.ExecContext(ctx,
			`INSERT INTO segment_claims (job_id, idx, owner, token, claimed_at, expires_unix)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (job_id, idx) DO NOTHING`,
			job, index, holder, token, sqlitedb.FormatTime(now), now.Add(l.claimTTL).UnixNano())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim job %d segment %d: %w", job, index, err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: job %d segment %d is being synthesized by %s",
			services.ErrSegmentBusy, job, index, l.claimHolder(ctx, job, index))
	}
	release := func() {
		persist := context.WithoutCancel(ctx)
		err := sqlitedb.RetryOnBusy(persist, func() error {
			_, err := l.db.ExecContext(persist,
				"DELETE FROM segment_claims WHERE job_id = ? AND idx = ? AND token = ?", job, index, token)
			return err
		})
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, l.logger), "segment claim not released", "segment_claim_release_failed",
				logging.Int64(logging.FieldJobID, job),
				logging.Int(logging.FieldSegment, index),
				logging.Error(err),
				logging.String(logging.FieldImpact, "segment stays busy until the claim expires"),
				logging.String(logging.FieldErrorHint, "check review database access"))
		}
	}
	return release, nil
}

func (l *Ledger) claimHolder(ctx context.Context, job int64, index int) string {
	var owner string
	err := l.db.QueryRowContext(ctx,
		"SELECT owner FROM segment_claims WHERE job_id = ? AND idx = ?", job, index).Scan(&owner)
	if err != nil {
		return "another writer"
	}
	return owner
}
