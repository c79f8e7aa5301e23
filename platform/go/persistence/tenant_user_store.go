package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TenantUsersTable is resolved through the bound tenant's search_path.
const TenantUsersTable = "users"

const tenantUserColumns = `user_id, account_id, email, username, full_name, role, password_hash,
        suspended_by_account, suspended_by_admin, is_deleted, deleted_at, created_at, updated_at`

// TenantUserRecord represents a row in a tenant schema's users table.
type TenantUserRecord struct {
	UserID             uuid.UUID  `db:"user_id"`
	AccountID          uuid.UUID  `db:"account_id"`
	Email              string     `db:"email"`
	Username           string     `db:"username"`
	FullName           string     `db:"full_name"`
	Role               string     `db:"role"`
	PasswordHash       string     `db:"password_hash"`
	SuspendedByAccount bool       `db:"suspended_by_account"`
	SuspendedByAdmin   bool       `db:"suspended_by_admin"`
	IsDeleted          bool       `db:"is_deleted"`
	DeletedAt          *time.Time `db:"deleted_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// LoginEligible is true iff neither suspension flag is set and the row is live.
func (r TenantUserRecord) LoginEligible() bool {
	return !r.SuspendedByAccount && !r.SuspendedByAdmin && !r.IsDeleted
}

var (
	// ErrTenantUserNotFound indicates a missing or soft-deleted tenant user.
	ErrTenantUserNotFound = errors.New("tenant user not found")
	// ErrTenantUserConflict indicates a duplicated email or username within the account.
	ErrTenantUserConflict = errors.New("tenant user conflict")
)

// TenantUserStore reads and writes the users table of whichever tenant schema
// is bound on the context. It has no way to name a schema itself.
type TenantUserStore struct {
	db *TenantDB
}

func NewTenantUserStore(db *TenantDB) (*TenantUserStore, error) {
	if db == nil {
		return nil, errors.New("tenant db is required")
	}
	return &TenantUserStore{db: db}, nil
}

func (s *TenantUserStore) Create(ctx context.Context, rec TenantUserRecord) (TenantUserRecord, error) {
	if rec.UserID == uuid.Nil {
		return TenantUserRecord{}, errors.New("user id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (user_id, account_id, email, username, full_name, role, password_hash)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING %s`, TenantUsersTable, tenantUserColumns)

	var out TenantUserRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanTenantUser(tx.QueryRow(ctx, query,
			rec.UserID, rec.AccountID, strings.ToLower(strings.TrimSpace(rec.Email)),
			strings.TrimSpace(rec.Username), strings.TrimSpace(rec.FullName), rec.Role, rec.PasswordHash,
		))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return TenantUserRecord{}, ErrTenantUserConflict
		}
		return TenantUserRecord{}, err
	}
	return out, nil
}

// ExistsByEmailOrUsername reports whether a live user already uses either value.
func (s *TenantUserStore) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (
        SELECT 1 FROM %s WHERE is_deleted = FALSE AND (email = $1 OR username = $2)
    )`, TenantUsersTable)

	var exists bool
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(username)).Scan(&exists)
	})
	return exists, err
}

// Get returns a live user by id.
func (s *TenantUserStore) Get(ctx context.Context, id uuid.UUID) (TenantUserRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 AND is_deleted = FALSE`, tenantUserColumns, TenantUsersTable)
	var out TenantUserRecord
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanTenantUser(tx.QueryRow(ctx, query, id))
		return err
	})
	return out, err
}

// GetByEmail returns the live user with the given email.
func (s *TenantUserStore) GetByEmail(ctx context.Context, email string) (TenantUserRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1 AND is_deleted = FALSE`, tenantUserColumns, TenantUsersTable)
	var out TenantUserRecord
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanTenantUser(tx.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
		return err
	})
	return out, err
}

// ListTenantUsersParams captures filters and pagination for List.
type ListTenantUsersParams struct {
	IncludeDeleted bool
	Limit          int
	Offset         int
}

func (s *TenantUserStore) List(ctx context.Context, params ListTenantUsersParams) ([]TenantUserRecord, int, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	where := "WHERE is_deleted = FALSE"
	if params.IncludeDeleted {
		where = ""
	}

	var (
		users []TenantUserRecord
		total int
	)
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s %s", TenantUsersTable, where)).Scan(&total); err != nil {
			return fmt.Errorf("count users: %w", err)
		}

		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s %s
            ORDER BY created_at ASC
            LIMIT %d OFFSET %d`, tenantUserColumns, TenantUsersTable, where, params.Limit, params.Offset))
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanTenantUser(rows)
			if err != nil {
				return fmt.Errorf("scan user: %w", err)
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// SetSuspendedByAdmin flips only the admin-owned flag.
func (s *TenantUserStore) SetSuspendedByAdmin(ctx context.Context, id uuid.UUID, suspended bool) (TenantUserRecord, error) {
	query := fmt.Sprintf(`UPDATE %s SET suspended_by_admin = $2, updated_at = now()
        WHERE user_id = $1 AND is_deleted = FALSE
        RETURNING %s`, TenantUsersTable, tenantUserColumns)
	var out TenantUserRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanTenantUser(tx.QueryRow(ctx, query, id, suspended))
		return err
	})
	return out, err
}

// SoftDelete marks a single user deleted.
func (s *TenantUserStore) SoftDelete(ctx context.Context, id uuid.UUID) (TenantUserRecord, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted = TRUE, deleted_at = now(), updated_at = now()
        WHERE user_id = $1 AND is_deleted = FALSE
        RETURNING %s`, TenantUsersTable, tenantUserColumns)
	var out TenantUserRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanTenantUser(tx.QueryRow(ctx, query, id))
		return err
	})
	return out, err
}

// SuspendAllByAccount sets suspended_by_account on every live user that does
// not have it yet. The count excludes users already suspended by an admin, so
// it reports only users this call actually locked out.
func (s *TenantUserStore) SuspendAllByAccount(ctx context.Context) (int64, error) {
	return s.bulkAccountFlag(ctx, true)
}

// UnsuspendAllByAccount clears suspended_by_account; suspended_by_admin is untouched.
// The count excludes users still locked out by an admin.
func (s *TenantUserStore) UnsuspendAllByAccount(ctx context.Context) (int64, error) {
	return s.bulkAccountFlag(ctx, false)
}

func (s *TenantUserStore) bulkAccountFlag(ctx context.Context, suspended bool) (int64, error) {
	query := fmt.Sprintf(`
        WITH updated AS (
            UPDATE %s SET suspended_by_account = $1, updated_at = now()
            WHERE is_deleted = FALSE AND suspended_by_account = NOT $1
            RETURNING suspended_by_admin
        )
        SELECT COUNT(*) FILTER (WHERE NOT suspended_by_admin) FROM updated`, TenantUsersTable)

	var n int64
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, suspended).Scan(&n)
	})
	return n, err
}

// SoftDeleteAll soft-deletes every live user. A second call affects nothing.
func (s *TenantUserStore) SoftDeleteAll(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted = TRUE, deleted_at = now(), updated_at = now()
        WHERE is_deleted = FALSE`, TenantUsersTable)
	var n int64
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func scanTenantUser(row pgx.Row) (TenantUserRecord, error) {
	var rec TenantUserRecord
	if err := row.Scan(
		&rec.UserID, &rec.AccountID, &rec.Email, &rec.Username, &rec.FullName, &rec.Role, &rec.PasswordHash,
		&rec.SuspendedByAccount, &rec.SuspendedByAdmin, &rec.IsDeleted, &rec.DeletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantUserRecord{}, ErrTenantUserNotFound
		}
		return TenantUserRecord{}, err
	}
	return rec, nil
}
