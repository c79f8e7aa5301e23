package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
)

// BootstrapControlPlane creates the control-plane schema (if missing) and applies
// the platform DDL in a single transaction, in this order:
//  1. platform/accounts.sql
//  2. platform/login_challenges.sql
//  3. platform/tenant_user_directory.sql
//  4. platform/audit_events.sql
//
// SQL is embedded at build time so binaries stay self-contained. The helper is
// idempotent and intended for CLI bootstrap and tests.
func BootstrapControlPlane(ctx context.Context, pool txBeginner, schema string) error {
	if pool == nil {
		return fmt.Errorf("bootstrap control plane: pool is required")
	}
	if schema == "" {
		return fmt.Errorf("bootstrap control plane: schema is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.AccountsSQL)...)
	statements = append(statements, splitStatements(sqlassets.LoginChallengesSQL)...)
	statements = append(statements, splitStatements(sqlassets.TenantUserDirectorySQL)...)
	statements = append(statements, splitStatements(sqlassets.AuditEventsSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create control-plane schema: %w", err)
	}

	if _, err := tx.Exec(ctx, setSearchPathSQL, searchPath(schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}
