package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenant-users/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

type postgresRepository struct {
	store *persistence.TenantUserStore
}

// NewPostgresRepository constructs a repository backed by the tenant users table
// of whichever schema is bound on the context.
func NewPostgresRepository(store *persistence.TenantUserStore) service.Repository {
	if store == nil {
		panic("tenant user store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Create(ctx context.Context, rec persistence.TenantUserRecord) (persistence.TenantUserRecord, error) {
	if err := requireTenant(ctx); err != nil {
		return persistence.TenantUserRecord{}, err
	}
	return r.store.Create(ctx, rec)
}

func (r *postgresRepository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	if err := requireTenant(ctx); err != nil {
		return false, err
	}
	return r.store.ExistsByEmailOrUsername(ctx, email, username)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.TenantUserRecord, error) {
	if err := requireTenant(ctx); err != nil {
		return persistence.TenantUserRecord{}, err
	}
	return r.store.Get(ctx, id)
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (persistence.TenantUserRecord, error) {
	if err := requireTenant(ctx); err != nil {
		return persistence.TenantUserRecord{}, err
	}
	return r.store.GetByEmail(ctx, email)
}

func (r *postgresRepository) List(ctx context.Context, params persistence.ListTenantUsersParams) ([]persistence.TenantUserRecord, int, error) {
	if err := requireTenant(ctx); err != nil {
		return nil, 0, err
	}
	return r.store.List(ctx, params)
}

func (r *postgresRepository) SetSuspendedByAdmin(ctx context.Context, id uuid.UUID, suspended bool) (persistence.TenantUserRecord, error) {
	if err := requireTenant(ctx); err != nil {
		return persistence.TenantUserRecord{}, err
	}
	return r.store.SetSuspendedByAdmin(ctx, id, suspended)
}

func (r *postgresRepository) SoftDelete(ctx context.Context, id uuid.UUID) (persistence.TenantUserRecord, error) {
	if err := requireTenant(ctx); err != nil {
		return persistence.TenantUserRecord{}, err
	}
	return r.store.SoftDelete(ctx, id)
}

// requireTenant keeps reads from silently falling back to the control-plane
// search_path when no tenant is bound.
func requireTenant(ctx context.Context) error {
	if _, ok := tenant.Schema(ctx); !ok {
		return persistence.ErrNoTenantBound
	}
	return nil
}

// TenantTx opens a unit of work on the bound tenant schema so deferred
// directory and audit writes wait for its outcome.
type TenantTx struct {
	db *persistence.TenantDB
}

func NewTenantTx(db *persistence.TenantDB) *TenantTx {
	if db == nil {
		panic("tenant db is required")
	}
	return &TenantTx{db: db}
}

func (t *TenantTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithTx(ctx, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}

var _ service.TxRunner = (*TenantTx)(nil)
