package service

import (
	"context"

	"github.com/google/uuid"
)

// DBProvisioner creates the tenant schema and runs its migrations.
// Ensure is mutating/idempotent, Check is read-only/health verification.
type DBProvisioner interface {
	Ensure(ctx context.Context, schema string) (DBProvisionResult, error)
	Check(ctx context.Context, schema string) (DBProvisionResult, error)
}

type DBProvisionResult struct {
	Ready bool
	// Applied lists migrations run by this call.
	Applied []string
}

// StorageProvisioner prepares the account's storage prefix.
// Ensure is mutating/idempotent, Check is read-only/health verification.
type StorageProvisioner interface {
	Ensure(ctx context.Context, prefix string) (StorageProvisionResult, error)
	Check(ctx context.Context, prefix string) (StorageProvisionResult, error)
}

type StorageProvisionResult struct {
	Ready bool
}

// Owner is the first user of a freshly provisioned account.
type Owner struct {
	Email    string
	Username string
	FullName string
	Password string
}

type OwnerResult struct {
	UserID uuid.UUID
}

// OwnerBootstrapper inserts the owner user into the account's tenant schema.
type OwnerBootstrapper interface {
	BootstrapOwner(ctx context.Context, a Account, owner Owner) (OwnerResult, error)
}

type ProvisioningDeps struct {
	DB      DBProvisioner
	Storage StorageProvisioner
	Owner   OwnerBootstrapper
}
