package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const LoginChallengesTable = "login_challenges"

// ChallengeRecord is a pending "pick your account" decision for one email.
type ChallengeRecord struct {
	ChallengeID         string
	Email               string
	CandidateAccountIDs []uuid.UUID
	CreatedAt           time.Time
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
}

// HasCandidate reports whether id was offered when the challenge was created.
func (c ChallengeRecord) HasCandidate(id uuid.UUID) bool {
	return slices.Contains(c.CandidateAccountIDs, id)
}

// ErrChallengeUnavailable covers unknown, expired and already consumed
// challenges alike; callers cannot tell which.
var ErrChallengeUnavailable = errors.New("login challenge unavailable")

// ChallengeStore persists login challenges in the control-plane schema.
type ChallengeStore struct {
	db *ControlPlaneDB
}

func NewChallengeStore(db *ControlPlaneDB) (*ChallengeStore, error) {
	if db == nil {
		return nil, errors.New("control-plane db is required")
	}
	return &ChallengeStore{db: db}, nil
}

func (s *ChallengeStore) Create(ctx context.Context, rec ChallengeRecord) error {
	if rec.ChallengeID == "" {
		return errors.New("challenge id is required")
	}
	if len(rec.CandidateAccountIDs) < 2 {
		return errors.New("a challenge needs at least two candidates")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (challenge_id, email, candidate_account_ids, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5)`, LoginChallengesTable)

	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, rec.ChallengeID, rec.Email, rec.CandidateAccountIDs, rec.CreatedAt, rec.ExpiresAt)
		return err
	})
}

// Consume locks the challenge, checks it is live at now, lets accept veto it,
// and marks it consumed. A vetoed challenge stays unconsumed.
func (s *ChallengeStore) Consume(ctx context.Context, id string, now time.Time, accept func(ChallengeRecord) error) (ChallengeRecord, error) {
	selectQuery := fmt.Sprintf(`
        SELECT challenge_id, email, candidate_account_ids, created_at, expires_at, consumed_at
        FROM %s WHERE challenge_id = $1 FOR UPDATE`, LoginChallengesTable)
	updateQuery := fmt.Sprintf(`UPDATE %s SET consumed_at = $2 WHERE challenge_id = $1 AND consumed_at IS NULL`, LoginChallengesTable)

	var out ChallengeRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rec, err := scanChallenge(tx.QueryRow(ctx, selectQuery, id))
		if err != nil {
			return err
		}
		if rec.ConsumedAt != nil || !now.Before(rec.ExpiresAt) {
			return ErrChallengeUnavailable
		}
		if accept != nil {
			if err := accept(rec); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, updateQuery, id, now)
		if err != nil {
			return fmt.Errorf("consume challenge: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrChallengeUnavailable
		}
		rec.ConsumedAt = &now
		out = rec
		return nil
	})
	if err != nil {
		return ChallengeRecord{}, err
	}
	return out, nil
}

// PurgeExpired deletes challenges that expired before cutoff.
func (s *ChallengeStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, LoginChallengesTable)
	var n int64
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func scanChallenge(row pgx.Row) (ChallengeRecord, error) {
	var rec ChallengeRecord
	if err := row.Scan(&rec.ChallengeID, &rec.Email, &rec.CandidateAccountIDs, &rec.CreatedAt, &rec.ExpiresAt, &rec.ConsumedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChallengeRecord{}, ErrChallengeUnavailable
		}
		return ChallengeRecord{}, err
	}
	return rec, nil
}
