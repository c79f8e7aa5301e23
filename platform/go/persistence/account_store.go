package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountsTable lives in the control-plane schema; the runtime's search_path qualifies it.
const AccountsTable = "accounts"

const accountColumns = `account_id, display_name, slug, schema_name, short_id, base_prefix,
        status, status_reason, status_changed_at, trial_ends_at, payment_due_at,
        is_deleted, deleted_at, db_ready, storage_ready, last_provisioned_at, last_error,
        cascade_pending_action, cascade_applied_at, created_at, updated_at`

// AccountRecord represents a row of the account registry.
type AccountRecord struct {
	AccountID            uuid.UUID  `db:"account_id"`
	DisplayName          string     `db:"display_name"`
	Slug                 string     `db:"slug"`
	SchemaName           string     `db:"schema_name"`
	ShortID              string     `db:"short_id"`
	BasePrefix           string     `db:"base_prefix"`
	Status               string     `db:"status"`
	StatusReason         *string    `db:"status_reason"`
	StatusChangedAt      time.Time  `db:"status_changed_at"`
	TrialEndsAt          *time.Time `db:"trial_ends_at"`
	PaymentDueAt         *time.Time `db:"payment_due_at"`
	IsDeleted            bool       `db:"is_deleted"`
	DeletedAt            *time.Time `db:"deleted_at"`
	DBReady              bool       `db:"db_ready"`
	StorageReady         bool       `db:"storage_ready"`
	LastProvisionedAt    *time.Time `db:"last_provisioned_at"`
	LastError            *string    `db:"last_error"`
	CascadePendingAction *string    `db:"cascade_pending_action"`
	CascadeAppliedAt     *time.Time `db:"cascade_applied_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

var (
	// ErrAccountNotFound is returned when no account row matches.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountConflict is returned when slug or schema name is already taken,
	// including by a soft-deleted account.
	ErrAccountConflict = errors.New("account conflict")
)

// AccountStore provides access to the accounts table through the control-plane runtime.
type AccountStore struct {
	db *ControlPlaneDB
}

func NewAccountStore(db *ControlPlaneDB) (*AccountStore, error) {
	if db == nil {
		return nil, errors.New("control-plane db is required")
	}
	return &AccountStore{db: db}, nil
}

// Create inserts a new account in PROVISIONING.
func (s *AccountStore) Create(ctx context.Context, rec AccountRecord) (AccountRecord, error) {
	if rec.AccountID == uuid.Nil {
		return AccountRecord{}, errors.New("account id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            account_id, display_name, slug, schema_name, short_id, base_prefix,
            status, trial_ends_at, payment_due_at
        ) VALUES ($1,$2,$3,$4,$5,$6,'PROVISIONING',$7,$8)
        RETURNING %s`, AccountsTable, accountColumns)

	var out AccountRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanAccount(tx.QueryRow(ctx, query,
			rec.AccountID, rec.DisplayName, rec.Slug, rec.SchemaName, rec.ShortID, rec.BasePrefix,
			rec.TrialEndsAt, rec.PaymentDueAt,
		))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return AccountRecord{}, ErrAccountConflict
		}
		return AccountRecord{}, err
	}
	return out, nil
}

// Get returns the account by id, soft-deleted rows included.
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (AccountRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = $1`, accountColumns, AccountsTable)
	var out AccountRecord
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanAccount(tx.QueryRow(ctx, query, id))
		return err
	})
	return out, err
}

// GetForUpdate returns the account and holds a row lock until the enclosing
// control-plane transaction ends.
func (s *AccountStore) GetForUpdate(ctx context.Context, id uuid.UUID) (AccountRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = $1 FOR UPDATE`, accountColumns, AccountsTable)
	var out AccountRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanAccount(tx.QueryRow(ctx, query, id))
		return err
	})
	return out, err
}

// GetBySlug returns the account owning slug, soft-deleted rows included.
func (s *AccountStore) GetBySlug(ctx context.Context, slug string) (AccountRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1`, accountColumns, AccountsTable)
	var out AccountRecord
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanAccount(tx.QueryRow(ctx, query, slug))
		return err
	})
	return out, err
}

// ListAccountsParams captures filters and pagination for List.
type ListAccountsParams struct {
	Status         *string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// List returns paginated accounts and the total matching count.
func (s *AccountStore) List(ctx context.Context, params ListAccountsParams) ([]AccountRecord, int, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	where := "WHERE 1=1"
	var args []any
	if !params.IncludeDeleted {
		where += " AND is_deleted = FALSE"
	}
	if params.Status != nil {
		args = append(args, *params.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var (
		records []AccountRecord
		total   int
	)
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", AccountsTable, where)
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}

		query := fmt.Sprintf(`SELECT %s FROM %s %s
            ORDER BY created_at DESC
            LIMIT %d OFFSET %d`, accountColumns, AccountsTable, where, params.Limit, params.Offset)
		var err error
		records, err = collectAccounts(tx.Query(ctx, query, args...))
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListByIDs returns the accounts with the given ids, in no particular order.
func (s *AccountStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]AccountRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = ANY($1)`, accountColumns, AccountsTable)
	var records []AccountRecord
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		records, err = collectAccounts(tx.Query(ctx, query, ids))
		return err
	})
	return records, err
}

// UpdateStatusParams describes a status write and the cascade it leaves pending.
type UpdateStatusParams struct {
	AccountID     uuid.UUID
	Status        string
	Reason        *string
	PendingAction *string
	SoftDelete    bool
}

// UpdateStatus persists a status change. A nil PendingAction keeps whatever
// cascade is already pending; the soft-delete flag is never cleared.
func (s *AccountStore) UpdateStatus(ctx context.Context, params UpdateStatusParams) (AccountRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET
            status = $2,
            status_reason = $3,
            status_changed_at = now(),
            cascade_pending_action = COALESCE($4, cascade_pending_action),
            is_deleted = is_deleted OR $5,
            deleted_at = CASE WHEN $5 AND deleted_at IS NULL THEN now() ELSE deleted_at END,
            updated_at = now()
        WHERE account_id = $1
        RETURNING %s`, AccountsTable, accountColumns)

	var out AccountRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanAccount(tx.QueryRow(ctx, query,
			params.AccountID, params.Status, params.Reason, params.PendingAction, params.SoftDelete,
		))
		return err
	})
	return out, err
}

// MarkCascadeApplied clears the pending cascade if it is still action. A newer
// status change that replaced the pending action is left untouched.
func (s *AccountStore) MarkCascadeApplied(ctx context.Context, id uuid.UUID, action string) (bool, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET cascade_pending_action = NULL, cascade_applied_at = now(), updated_at = now()
        WHERE account_id = $1 AND cascade_pending_action = $2`, AccountsTable)

	var cleared bool
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, id, action)
		if err != nil {
			return err
		}
		cleared = tag.RowsAffected() == 1
		return nil
	})
	return cleared, err
}

// ListPendingCascades returns accounts whose last status change has not been
// applied inside the tenant schema yet, oldest first.
func (s *AccountStore) ListPendingCascades(ctx context.Context, limit int) ([]AccountRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE cascade_pending_action IS NOT NULL
        ORDER BY status_changed_at ASC
        LIMIT %d`, accountColumns, AccountsTable, limit)

	var records []AccountRecord
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		records, err = collectAccounts(tx.Query(ctx, query))
		return err
	})
	return records, err
}

// ProvisioningUpdate records the outcome of a provisioning run.
type ProvisioningUpdate struct {
	AccountID    uuid.UUID
	DBReady      bool
	StorageReady bool
	LastError    *string
}

func (s *AccountStore) RecordProvisioning(ctx context.Context, upd ProvisioningUpdate) (AccountRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET
            db_ready = $2,
            storage_ready = $3,
            last_error = $4,
            last_provisioned_at = now(),
            updated_at = now()
        WHERE account_id = $1
        RETURNING %s`, AccountsTable, accountColumns)

	var out AccountRecord
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanAccount(tx.QueryRow(ctx, query, upd.AccountID, upd.DBReady, upd.StorageReady, upd.LastError))
		return err
	})
	return out, err
}

func collectAccounts(rows pgx.Rows, err error) ([]AccountRecord, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AccountRecord
	for rows.Next() {
		rec, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanAccount(row pgx.Row) (AccountRecord, error) {
	var rec AccountRecord
	if err := row.Scan(
		&rec.AccountID, &rec.DisplayName, &rec.Slug, &rec.SchemaName, &rec.ShortID, &rec.BasePrefix,
		&rec.Status, &rec.StatusReason, &rec.StatusChangedAt, &rec.TrialEndsAt, &rec.PaymentDueAt,
		&rec.IsDeleted, &rec.DeletedAt, &rec.DBReady, &rec.StorageReady, &rec.LastProvisionedAt, &rec.LastError,
		&rec.CascadePendingAction, &rec.CascadeAppliedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, err
	}
	return rec, nil
}
