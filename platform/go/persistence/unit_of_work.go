package persistence

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// UnitOfWork is the transaction currently open on a context together with the
// work deferred until it finishes.
type UnitOfWork struct {
	runtime  string
	schema   string
	readOnly bool
	tx       pgx.Tx

	mu              sync.Mutex
	afterCommit     []func(context.Context) error
	afterCompletion []func(context.Context, bool) error
}

type uowKey struct{}

func newUnitOfWork(runtime, schema string, readOnly bool, tx pgx.Tx) *UnitOfWork {
	return &UnitOfWork{runtime: runtime, schema: schema, readOnly: readOnly, tx: tx}
}

// Runtime names the persistence runtime that owns the transaction.
func (u *UnitOfWork) Runtime() string { return u.runtime }

// Schema is the search_path the transaction was opened with.
func (u *UnitOfWork) Schema() string { return u.schema }

// CurrentUnitOfWork returns the unit of work open on ctx, or nil.
func CurrentUnitOfWork(ctx context.Context) *UnitOfWork {
	uow, _ := ctx.Value(uowKey{}).(*UnitOfWork)
	return uow
}

func (u *UnitOfWork) attach(ctx context.Context) context.Context {
	return tenant.EnterTransaction(context.WithValue(ctx, uowKey{}, u), u.runtime)
}

// InMemoryUnitOfWork runs fn inside a unit of work with no database
// transaction behind it, for runtimes backed by memory. Deferred callbacks run
// exactly as for a real transaction; an error from fn counts as a rollback.
// When a unit of work is already open, fn joins it.
func InMemoryUnitOfWork(ctx context.Context, runtime string, fn func(ctx context.Context) error) error {
	if CurrentUnitOfWork(ctx) != nil {
		return fn(ctx)
	}
	uow := newUnitOfWork(runtime, tenant.SchemaOrPublic(ctx), false, nil)
	if err := fn(uow.attach(ctx)); err != nil {
		uow.complete(ctx, false)
		return err
	}
	uow.complete(ctx, true)
	return nil
}

// AfterCommit runs fn once the open unit of work commits. It is dropped on
// rollback. With no unit of work open, fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context) error) {
	uow := CurrentUnitOfWork(ctx)
	if uow == nil {
		runDeferred(ctx, "after-commit", fn)
		return
	}
	uow.mu.Lock()
	uow.afterCommit = append(uow.afterCommit, fn)
	uow.mu.Unlock()
}

// AfterCompletion runs fn once the open unit of work ends, whatever the outcome.
// With no unit of work open, fn runs immediately with committed=true.
func AfterCompletion(ctx context.Context, fn func(ctx context.Context, committed bool) error) {
	uow := CurrentUnitOfWork(ctx)
	if uow == nil {
		runDeferred(ctx, "after-completion", func(ctx context.Context) error { return fn(ctx, true) })
		return
	}
	uow.mu.Lock()
	uow.afterCompletion = append(uow.afterCompletion, fn)
	uow.mu.Unlock()
}

// complete flushes deferred work on ctx, which must be the context the unit of
// work was opened from, so callbacks see no open transaction.
func (u *UnitOfWork) complete(ctx context.Context, committed bool) {
	u.mu.Lock()
	commitFns := u.afterCommit
	completionFns := u.afterCompletion
	u.afterCommit, u.afterCompletion = nil, nil
	u.mu.Unlock()

	if committed {
		for _, fn := range commitFns {
			runDeferred(ctx, "after-commit", fn)
		}
	}
	for _, fn := range completionFns {
		fn := fn
		runDeferred(ctx, "after-completion", func(ctx context.Context) error { return fn(ctx, committed) })
	}
}

// runDeferred isolates deferred work: one failing callback neither affects the
// finished transaction nor the callbacks after it.
func runDeferred(ctx context.Context, phase string, fn func(context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			loggerFrom(ctx).Error("deferred transaction callback panicked",
				zap.String("phase", phase),
				zap.Any("panic", p),
			)
		}
	}()
	if err := fn(ctx); err != nil {
		loggerFrom(ctx).Error("deferred transaction callback failed",
			zap.String("phase", phase),
			zap.Error(err),
		)
	}
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	return zap.NewNop()
}
