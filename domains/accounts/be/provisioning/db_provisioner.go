package provisioning

import (
	"context"
	"fmt"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// SchemaMigrator is satisfied by persistence.SchemaProvisioner.
type SchemaMigrator interface {
	EnsureSchemaExistsAndMigrate(ctx context.Context, schema string) (persistence.MigrationResult, error)
	SchemaExists(ctx context.Context, schema string) (bool, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
}

// DBProvisioner creates the tenant schema and brings its migrations up to date.
type DBProvisioner struct {
	migrator SchemaMigrator
}

func NewDBProvisioner(migrator SchemaMigrator) *DBProvisioner {
	if migrator == nil {
		panic("db provisioner requires schema migrator")
	}
	return &DBProvisioner{migrator: migrator}
}

func (p *DBProvisioner) Ensure(ctx context.Context, schema string) (service.DBProvisionResult, error) {
	res, err := p.migrator.EnsureSchemaExistsAndMigrate(ctx, schema)
	if err != nil {
		return service.DBProvisionResult{}, err
	}
	ready, err := p.migrator.TableExists(ctx, schema, persistence.TenantUsersTable)
	if err != nil {
		return service.DBProvisionResult{}, err
	}
	return service.DBProvisionResult{Ready: ready, Applied: res.Applied}, nil
}

// Check reports ready only when the schema and its users table both exist.
func (p *DBProvisioner) Check(ctx context.Context, schema string) (service.DBProvisionResult, error) {
	exists, err := p.migrator.SchemaExists(ctx, schema)
	if err != nil {
		return service.DBProvisionResult{}, fmt.Errorf("check schema: %w", err)
	}
	if !exists {
		return service.DBProvisionResult{Ready: false}, nil
	}
	ready, err := p.migrator.TableExists(ctx, schema, persistence.TenantUsersTable)
	if err != nil {
		return service.DBProvisionResult{}, fmt.Errorf("check users table: %w", err)
	}
	return service.DBProvisionResult{Ready: ready}, nil
}

var _ service.DBProvisioner = (*DBProvisioner)(nil)
