package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const DirectoryTable = "tenant_user_directory"

// DirectoryEntry mirrors the credential-relevant part of a tenant user into
// the control plane so login can verify every candidate without binding a
// tenant schema.
type DirectoryEntry struct {
	AccountID        uuid.UUID
	UserID           uuid.UUID
	Email            string
	PasswordHash     string
	SuspendedByAdmin bool
	IsDeleted        bool
	UpdatedAt        time.Time
}

// DirectoryStore maintains the login directory. Writes only ever happen after a
// tenant transaction commits, through the control-plane runtime.
type DirectoryStore struct {
	db *ControlPlaneDB
}

func NewDirectoryStore(db *ControlPlaneDB) (*DirectoryStore, error) {
	if db == nil {
		return nil, errors.New("control-plane db is required")
	}
	return &DirectoryStore{db: db}, nil
}

// Upsert writes the entry, replacing the previous mirror of the same user.
func (s *DirectoryStore) Upsert(ctx context.Context, e DirectoryEntry) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (account_id, user_id, email, password_hash, suspended_by_admin, is_deleted, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, now())
        ON CONFLICT (account_id, user_id) DO UPDATE SET
            email = EXCLUDED.email,
            password_hash = EXCLUDED.password_hash,
            suspended_by_admin = EXCLUDED.suspended_by_admin,
            is_deleted = EXCLUDED.is_deleted,
            updated_at = now()`, DirectoryTable)

	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, e.AccountID, e.UserID, e.Email, e.PasswordHash, e.SuspendedByAdmin, e.IsDeleted)
		return err
	})
}

// FindLoginCandidates returns live, not admin-suspended entries for email
// across every account.
func (s *DirectoryStore) FindLoginCandidates(ctx context.Context, email string) ([]DirectoryEntry, error) {
	query := fmt.Sprintf(`
        SELECT account_id, user_id, email, password_hash, suspended_by_admin, is_deleted, updated_at
        FROM %s
        WHERE email = $1 AND is_deleted = FALSE AND suspended_by_admin = FALSE
        ORDER BY account_id`, DirectoryTable)

	var entries []DirectoryEntry
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, email)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e DirectoryEntry
			if err := rows.Scan(&e.AccountID, &e.UserID, &e.Email, &e.PasswordHash, &e.SuspendedByAdmin, &e.IsDeleted, &e.UpdatedAt); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// MarkAccountDeleted flags every entry of a cancelled account.
func (s *DirectoryStore) MarkAccountDeleted(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted = TRUE, updated_at = now()
        WHERE account_id = $1 AND is_deleted = FALSE`, DirectoryTable)
	var n int64
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, accountID)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
