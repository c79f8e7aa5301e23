// Package executor holds the only sanctioned ways to switch the schema a piece
// of work runs against. TenantExecutor binds a tenant schema for the duration
// of a call and always releases it; PublicExecutor runs work with no tenant
// bound at all.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// ErrPublicInTransaction is returned when PublicExecutor is asked to drop the
// tenant binding while a transaction is still open on the context.
var ErrPublicInTransaction = errors.New("executor: cannot leave tenant scope inside an open transaction")

// Readiness answers whether a tenant schema (and a table in it) exists yet.
type Readiness interface {
	SchemaExists(ctx context.Context, schema string) (bool, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
}

// TenantExecutor runs work bound to one tenant schema.
type TenantExecutor struct {
	readiness Readiness
	logger    *zap.Logger
}

func NewTenantExecutor(readiness Readiness, logger *zap.Logger) *TenantExecutor {
	if readiness == nil {
		panic("tenant executor requires readiness checker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantExecutor{readiness: readiness, logger: logger}
}

// Run validates schema, binds it for fn, and releases the binding on every exit
// path. The caller's ctx is never modified.
func (e *TenantExecutor) Run(ctx context.Context, schema string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, e, schema, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Run for functions that return a value.
func Call[T any](ctx context.Context, e *TenantExecutor, schema string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := e.loggerFor(ctx).With(zap.String("schema", schema))

	previous, wasBound := tenant.Schema(ctx)
	bound, release, err := tenant.Scope(ctx, schema)
	if err != nil {
		if errors.Is(err, tenant.ErrRebindInTransaction) {
			logger.Error("illegal tenant rebind inside open transaction",
				zap.String("previous_schema", previous),
				zap.Error(err),
			)
		}
		return zero, err
	}

	bindingID := tenant.BindingID(bound)
	logger = logger.With(zap.String("binding_id", bindingID))
	if wasBound {
		logger.Debug("tenant bound over existing binding", zap.String("previous_schema", previous))
	} else {
		logger.Debug("tenant bound")
	}

	defer func() {
		release()
		logger.Debug("tenant unbound")
	}()

	return fn(bound)
}

// AssertReady fails with TENANT_SCHEMA_NOT_FOUND or TENANT_TABLE_NOT_FOUND when
// the schema, or the table inside it, does not exist. An empty table skips the
// table check.
func (e *TenantExecutor) AssertReady(ctx context.Context, schema, table string) error {
	if err := tenant.ValidateSchemaName(schema); err != nil {
		return err
	}
	ok, err := e.readiness.SchemaExists(ctx, schema)
	if err != nil {
		return fmt.Errorf("check schema readiness: %w", err)
	}
	if !ok {
		return apperr.New(apperr.TenantSchemaNotFound, fmt.Sprintf("tenant schema %q does not exist", schema))
	}
	if table == "" {
		return nil
	}
	ok, err = e.readiness.TableExists(ctx, schema, table)
	if err != nil {
		return fmt.Errorf("check table readiness: %w", err)
	}
	if !ok {
		return apperr.New(apperr.TenantTableNotFound, fmt.Sprintf("table %q not found in tenant schema %q", table, schema))
	}
	return nil
}

// RunIfReady runs fn only when schema and table exist; otherwise it returns def
// without error. Failures of the readiness query itself still propagate, since
// they mean the infrastructure is broken rather than not provisioned yet.
func RunIfReady[T any](ctx context.Context, e *TenantExecutor, schema, table string, fn func(ctx context.Context) (T, error), def T) (T, error) {
	err := e.AssertReady(ctx, schema, table)
	switch {
	case err == nil:
		return Call(ctx, e, schema, fn)
	case apperr.HasCode(err, apperr.TenantSchemaNotFound), apperr.HasCode(err, apperr.TenantTableNotFound):
		e.loggerFor(ctx).Info("tenant not ready, skipping",
			zap.String("schema", schema),
			zap.String("table", table),
			zap.String("reason", string(apperr.CodeOf(err))),
		)
		return def, nil
	default:
		var zero T
		return zero, err
	}
}

// RunStrict runs fn after AssertReady, surfacing readiness failures as errors.
func RunStrict[T any](ctx context.Context, e *TenantExecutor, schema, table string, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := e.AssertReady(ctx, schema, table); err != nil {
		var zero T
		return zero, err
	}
	return Call(ctx, e, schema, fn)
}

func (e *TenantExecutor) loggerFor(ctx context.Context) *zap.Logger {
	return withRequestID(ctx, loggerOr(ctx, e.logger))
}

// PublicExecutor runs work that must not be tenant scoped.
type PublicExecutor struct {
	logger *zap.Logger
}

func NewPublicExecutor(logger *zap.Logger) *PublicExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublicExecutor{logger: logger}
}

// Run clears any tenant binding for fn. It refuses to run inside an open
// transaction, where dropping the binding would re-point the transaction.
func (p *PublicExecutor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := CallPublic(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CallPublic is PublicExecutor.Run for functions that return a value.
func CallPublic[T any](ctx context.Context, p *PublicExecutor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := withRequestID(ctx, loggerOr(ctx, p.logger))

	if runtime, open := tenant.ActiveTransaction(ctx); open {
		logger.Error("public execution requested inside open transaction", zap.String("runtime", runtime))
		return zero, ErrPublicInTransaction
	}

	previous, wasBound := tenant.Schema(ctx)
	if wasBound {
		logger.Debug("tenant unbound for public execution", zap.String("previous_schema", previous))
	}
	return fn(tenant.Clear(ctx))
}

func loggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	return fallback
}

func withRequestID(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if _, ok := logging.FromContext(ctx); ok {
		// The request logger already carries request_id.
		return logger
	}
	if id := middleware.GetReqID(ctx); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
