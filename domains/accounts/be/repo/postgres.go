package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// PostgresRepository implements the account repository on the control-plane runtime.
type PostgresRepository struct {
	store *persistence.AccountStore
}

// NewPostgresRepository constructs a repository backed by AccountStore.
func NewPostgresRepository(store *persistence.AccountStore) *PostgresRepository {
	if store == nil {
		panic("account store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Create(ctx context.Context, a service.Account) (service.Account, error) {
	rec, err := r.store.Create(ctx, persistence.AccountRecord{
		AccountID:    a.ID,
		DisplayName:  a.DisplayName,
		Slug:         a.Slug,
		SchemaName:   a.SchemaName,
		ShortID:      a.ShortID,
		BasePrefix:   a.BasePrefix,
		TrialEndsAt:  a.TrialEndsAt,
		PaymentDueAt: a.PaymentDueAt,
	})
	if err != nil {
		return service.Account{}, mapError(err)
	}
	return toServiceAccount(rec)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Account, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Account{}, mapError(err)
	}
	return toServiceAccount(rec)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (service.Account, error) {
	rec, err := r.store.GetForUpdate(ctx, id)
	if err != nil {
		return service.Account{}, mapError(err)
	}
	return toServiceAccount(rec)
}

func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (service.Account, error) {
	rec, err := r.store.GetBySlug(ctx, slug)
	if err != nil {
		return service.Account{}, mapError(err)
	}
	return toServiceAccount(rec)
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page, size := normalizePage(opts.Page, opts.PageSize)

	params := persistence.ListAccountsParams{
		IncludeDeleted: opts.IncludeDeleted,
		Limit:          size,
		Offset:         (page - 1) * size,
	}
	if opts.Status != nil {
		s := string(*opts.Status)
		params.Status = &s
	}

	rows, total, err := r.store.List(ctx, params)
	if err != nil {
		return service.ListResult{}, err
	}
	accounts, err := toServiceAccounts(rows)
	if err != nil {
		return service.ListResult{}, err
	}
	return service.ListResult{
		Accounts:   accounts,
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]service.Account, error) {
	rows, err := r.store.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toServiceAccounts(rows)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, upd service.StatusUpdate) (service.Account, error) {
	params := persistence.UpdateStatusParams{
		AccountID:  upd.AccountID,
		Status:     string(upd.Status),
		Reason:     upd.Reason,
		SoftDelete: upd.SoftDelete,
	}
	if upd.Pending != "" && upd.Pending != service.SideEffectNone {
		action := string(upd.Pending)
		params.PendingAction = &action
	}
	rec, err := r.store.UpdateStatus(ctx, params)
	if err != nil {
		return service.Account{}, mapError(err)
	}
	return toServiceAccount(rec)
}

func (r *PostgresRepository) MarkCascadeApplied(ctx context.Context, id uuid.UUID, action service.SideEffect) (bool, error) {
	return r.store.MarkCascadeApplied(ctx, id, string(action))
}

func (r *PostgresRepository) ListPendingCascades(ctx context.Context, limit int) ([]service.Account, error) {
	rows, err := r.store.ListPendingCascades(ctx, limit)
	if err != nil {
		return nil, err
	}
	return toServiceAccounts(rows)
}

func (r *PostgresRepository) RecordProvisioning(ctx context.Context, id uuid.UUID, status service.ProvisioningStatus) (service.Account, error) {
	rec, err := r.store.RecordProvisioning(ctx, persistence.ProvisioningUpdate{
		AccountID:    id,
		DBReady:      status.DBReady,
		StorageReady: status.StorageReady,
		LastError:    status.LastError,
	})
	if err != nil {
		return service.Account{}, mapError(err)
	}
	return toServiceAccount(rec)
}

// ControlPlaneTx opens control-plane transactions for the service.
type ControlPlaneTx struct {
	db *persistence.ControlPlaneDB
}

func NewControlPlaneTx(db *persistence.ControlPlaneDB) *ControlPlaneTx {
	if db == nil {
		panic("control-plane db is required")
	}
	return &ControlPlaneTx{db: db}
}

func (t *ControlPlaneTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithTx(ctx, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}

func toServiceAccounts(rows []persistence.AccountRecord) ([]service.Account, error) {
	out := make([]service.Account, 0, len(rows))
	for _, rec := range rows {
		a, err := toServiceAccount(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func toServiceAccount(rec persistence.AccountRecord) (service.Account, error) {
	status, err := service.ParseStatus(rec.Status)
	if err != nil {
		return service.Account{}, fmt.Errorf("account %s: %w", rec.AccountID, err)
	}
	var pending service.SideEffect
	if rec.CascadePendingAction != nil {
		pending, err = service.ParseSideEffect(*rec.CascadePendingAction)
		if err != nil {
			return service.Account{}, fmt.Errorf("account %s: %w", rec.AccountID, err)
		}
	}
	return service.Account{
		ID:              rec.AccountID,
		DisplayName:     rec.DisplayName,
		Slug:            rec.Slug,
		SchemaName:      rec.SchemaName,
		ShortID:         rec.ShortID,
		BasePrefix:      rec.BasePrefix,
		Status:          status,
		StatusReason:    rec.StatusReason,
		StatusChangedAt: rec.StatusChangedAt,
		TrialEndsAt:     rec.TrialEndsAt,
		PaymentDueAt:    rec.PaymentDueAt,
		IsDeleted:       rec.IsDeleted,
		DeletedAt:       rec.DeletedAt,
		Provisioning: service.ProvisioningStatus{
			DBReady:           rec.DBReady,
			StorageReady:      rec.StorageReady,
			LastProvisionedAt: rec.LastProvisionedAt,
			LastError:         rec.LastError,
		},
		PendingCascade:   pending,
		CascadeAppliedAt: rec.CascadeAppliedAt,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrAccountNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrAccountConflict):
		return service.ErrConflict
	default:
		return err
	}
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}

// Ensure interface compliance.
var (
	_ service.Repository = (*PostgresRepository)(nil)
	_ service.TxRunner   = (*ControlPlaneTx)(nil)
)
