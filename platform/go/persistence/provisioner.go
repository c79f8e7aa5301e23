package persistence

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

const migrationsDir = "schema/tenant_space/migrations"

// Migration is one versioned DDL file applied to tenant schemas.
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// MigrationResult reports what EnsureSchemaExistsAndMigrate changed.
type MigrationResult struct {
	Created bool
	Applied []string
}

type provisionerPool interface {
	txBeginner
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SchemaProvisioner creates tenant schemas and keeps their migrations current.
// It runs outside both runtimes: DDL is issued on raw pool transactions.
type SchemaProvisioner struct {
	pool       provisionerPool
	migrations []Migration
	logger     *zap.Logger
}

func NewSchemaProvisioner(pool *pgxpool.Pool, logger *zap.Logger) (*SchemaProvisioner, error) {
	if pool == nil {
		return nil, fmt.Errorf("schema provisioner: pool is required")
	}
	migrations, err := loadEmbeddedMigrations()
	if err != nil {
		return nil, err
	}
	return newSchemaProvisioner(pool, migrations, logger), nil
}

func loadEmbeddedMigrations() ([]Migration, error) {
	return LoadMigrations(sqlassets.TenantMigrations, migrationsDir)
}

func newSchemaProvisioner(pool provisionerPool, migrations []Migration, logger *zap.Logger) *SchemaProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaProvisioner{pool: pool, migrations: migrations, logger: logger}
}

// LoadMigrations reads NNNN_name.sql files from dir in lexical order.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, ok := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %q: expected NNNN_name.sql", entry.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %q and %q", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		contents, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}
		stmts := splitStatements(string(contents))
		if len(stmts) == 0 {
			return nil, fmt.Errorf("migration %q is empty", entry.Name())
		}
		out = append(out, Migration{Version: version, Name: name, Statements: stmts})
	}
	return out, nil
}

// SchemaExists reports whether the physical schema exists.
func (p *SchemaProvisioner) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`, schema,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema %q: %w", schema, err)
	}
	return exists, nil
}

// TableExists reports whether table exists inside schema.
func (p *SchemaProvisioner) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
		)`, schema, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

// EnsureSchemaExistsAndMigrate creates schema when missing and applies every
// pending migration once. The name is validated before any statement is sent,
// so "public" and malformed names never reach DDL. Concurrent callers for the
// same schema serialize on a transaction-scoped advisory lock.
func (p *SchemaProvisioner) EnsureSchemaExistsAndMigrate(ctx context.Context, schema string) (MigrationResult, error) {
	if err := tenant.ValidateSchemaName(schema); err != nil {
		return MigrationResult{}, err
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return MigrationResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "tenant-schema:"+schema); err != nil {
		return MigrationResult{}, fmt.Errorf("lock schema %q: %w", schema, err)
	}

	var existed bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`, schema,
	).Scan(&existed); err != nil {
		return MigrationResult{}, fmt.Errorf("check schema %q: %w", schema, err)
	}

	if !existed {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return MigrationResult{}, fmt.Errorf("create schema %q: %w", schema, err)
		}
	}

	if _, err := tx.Exec(ctx, setSearchPathSQL, searchPath(schema)); err != nil {
		return MigrationResult{}, fmt.Errorf("set search_path: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return MigrationResult{}, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return MigrationResult{}, err
	}

	result := MigrationResult{Created: !existed}
	for _, m := range p.migrations {
		if applied[m.Version] {
			continue
		}
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return MigrationResult{}, fmt.Errorf("apply migration %s_%s: %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return MigrationResult{}, fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		result.Applied = append(result.Applied, m.Version)
	}

	if err := tx.Commit(ctx); err != nil {
		return MigrationResult{}, fmt.Errorf("commit: %w", err)
	}

	p.logger.Info("tenant schema ensured",
		zap.String("schema", schema),
		zap.Bool("created", result.Created),
		zap.Strings("applied_migrations", result.Applied),
	)
	return result, nil
}

func appliedVersions(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[v] = true
	}
	return out, rows.Err()
}
