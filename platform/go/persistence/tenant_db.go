package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	RuntimeControlPlane = "control-plane"
	RuntimeTenant       = "tenant"
)

var (
	// ErrCrossRuntimeTransaction is returned when one runtime is used while the
	// other already has a transaction open on the same context.
	ErrCrossRuntimeTransaction = errors.New("persistence: transaction already open on another runtime")
	// ErrSchemaChangedInTransaction is returned when joined work routes to a
	// different schema than the open transaction.
	ErrSchemaChangedInTransaction = errors.New("persistence: schema changed inside an open transaction")
	// ErrWriteInReadOnlyTransaction is returned when write work joins a read-only transaction.
	ErrWriteInReadOnlyTransaction = errors.New("persistence: write inside a read-only transaction")
)

// TxFunc is the unit of work body. ctx carries the open transaction; pass it on
// so nested store calls join instead of opening their own.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// txRunner is one engine/transaction-manager pair. Each runtime owns its own
// pool and never joins a transaction opened by the other one.
type txRunner struct {
	name  string
	pool  txBeginner
	route func(ctx context.Context, mode AccessMode) (string, error)
}

func (r *txRunner) run(ctx context.Context, mode AccessMode, fn TxFunc) (err error) {
	if uow := CurrentUnitOfWork(ctx); uow != nil {
		return r.join(ctx, uow, mode, fn)
	}

	schema, err := r.route(ctx, mode)
	if err != nil {
		return err
	}

	opts := pgx.TxOptions{}
	if mode == AccessRead {
		opts.AccessMode = pgx.ReadOnly
	}

	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, setSearchPathSQL, searchPath(schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	uow := newUnitOfWork(r.name, schema, mode == AccessRead, tx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			uow.complete(ctx, false)
			panic(p)
		}
	}()

	if err := fn(uow.attach(ctx), tx); err != nil {
		_ = tx.Rollback(ctx)
		uow.complete(ctx, false)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		uow.complete(ctx, false)
		return fmt.Errorf("commit tx: %w", err)
	}

	uow.complete(ctx, true)
	return nil
}

func (r *txRunner) join(ctx context.Context, uow *UnitOfWork, mode AccessMode, fn TxFunc) error {
	if uow.runtime != r.name {
		return fmt.Errorf("%w: %s work inside open %s transaction", ErrCrossRuntimeTransaction, r.name, uow.runtime)
	}
	if mode == AccessWrite && uow.readOnly {
		return ErrWriteInReadOnlyTransaction
	}

	schema, err := r.route(ctx, mode)
	if err != nil {
		return err
	}
	if schema != uow.schema {
		return fmt.Errorf("%w: open on %q, routed to %q", ErrSchemaChangedInTransaction, uow.schema, schema)
	}
	return fn(ctx, uow.tx)
}

// TenantDB is the tenant-routed runtime. Every transaction asks the router for
// the schema bound on the context and pins search_path to it before fn runs.
type TenantDB struct {
	runner *txRunner
	router SchemaRouter
}

type TenantDBConfig struct {
	Pool               *pgxpool.Pool
	ControlPlaneSchema string
}

func NewTenantDB(cfg TenantDBConfig) *TenantDB {
	if cfg.Pool == nil {
		panic("TenantDB requires pool")
	}
	return newTenantDB(cfg.Pool, NewSchemaRouter(cfg.ControlPlaneSchema))
}

func newTenantDB(pool txBeginner, router SchemaRouter) *TenantDB {
	db := &TenantDB{router: router}
	db.runner = &txRunner{name: RuntimeTenant, pool: pool, route: router.BeforeConnectionUse}
	return db
}

// WithTx runs fn in a read-write transaction on the bound tenant schema.
// It fails with NO_TENANT_BOUND when ctx carries no binding.
func (db *TenantDB) WithTx(ctx context.Context, fn TxFunc) error {
	return db.runner.run(ctx, AccessWrite, fn)
}

// WithReadTx runs fn in a read-only transaction. Unbound contexts read the
// control-plane schema.
func (db *TenantDB) WithReadTx(ctx context.Context, fn TxFunc) error {
	return db.runner.run(ctx, AccessRead, fn)
}

// ControlPlaneDB is the fixed-schema runtime. It never consults the tenant
// binding, so calling it from a bound context still targets the control plane.
type ControlPlaneDB struct {
	runner *txRunner
	schema string
}

type ControlPlaneDBConfig struct {
	Pool   *pgxpool.Pool
	Schema string
}

func NewControlPlaneDB(cfg ControlPlaneDBConfig) *ControlPlaneDB {
	if cfg.Pool == nil {
		panic("ControlPlaneDB requires pool")
	}
	return newControlPlaneDB(cfg.Pool, cfg.Schema)
}

func newControlPlaneDB(pool txBeginner, schema string) *ControlPlaneDB {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		panic("ControlPlaneDB requires schema")
	}
	db := &ControlPlaneDB{schema: schema}
	db.runner = &txRunner{
		name: RuntimeControlPlane,
		pool: pool,
		route: func(context.Context, AccessMode) (string, error) {
			return db.schema, nil
		},
	}
	return db
}

// Schema returns the control-plane schema name.
func (db *ControlPlaneDB) Schema() string {
	return db.schema
}

// WithTx runs fn in a read-write control-plane transaction.
func (db *ControlPlaneDB) WithTx(ctx context.Context, fn TxFunc) error {
	return db.runner.run(ctx, AccessWrite, fn)
}

// WithReadTx runs fn in a read-only control-plane transaction.
func (db *ControlPlaneDB) WithReadTx(ctx context.Context, fn TxFunc) error {
	return db.runner.run(ctx, AccessRead, fn)
}
