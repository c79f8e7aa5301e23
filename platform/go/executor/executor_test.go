package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

type stubReadiness struct {
	schemas map[string]bool
	tables  map[string]bool
	err     error
}

func (s stubReadiness) SchemaExists(_ context.Context, schema string) (bool, error) {
	return s.schemas[schema], s.err
}

func (s stubReadiness) TableExists(_ context.Context, schema, table string) (bool, error) {
	return s.tables[schema+"."+table], s.err
}

func readyFor(schema string, tables ...string) stubReadiness {
	r := stubReadiness{schemas: map[string]bool{schema: true}, tables: map[string]bool{}}
	for _, t := range tables {
		r.tables[schema+"."+t] = true
	}
	return r
}

func TestRunBindsAndAlwaysUnbinds(t *testing.T) {
	t.Parallel()

	e := NewTenantExecutor(readyFor("dev__tenant_a"), zap.NewNop())
	ctx := context.Background()

	var escaped context.Context
	err := e.Run(ctx, "dev__tenant_a", func(ctx context.Context) error {
		schema, ok := tenant.Schema(ctx)
		require.True(t, ok)
		require.Equal(t, "dev__tenant_a", schema)
		escaped = ctx
		return nil
	})
	require.NoError(t, err)

	_, ok := tenant.Schema(ctx)
	require.False(t, ok)
	_, ok = tenant.Schema(escaped)
	require.False(t, ok, "a context leaked out of the guard must read as unbound")

	boom := errors.New("boom")
	err = e.Run(ctx, "dev__tenant_a", func(ctx context.Context) error {
		escaped = ctx
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, ok = tenant.Schema(escaped)
	require.False(t, ok)

	require.Panics(t, func() {
		_ = e.Run(ctx, "dev__tenant_a", func(ctx context.Context) error {
			escaped = ctx
			panic("boom")
		})
	})
	_, ok = tenant.Schema(escaped)
	require.False(t, ok)
}

func TestRunRejectsInvalidSchema(t *testing.T) {
	t.Parallel()

	e := NewTenantExecutor(stubReadiness{}, zap.NewNop())
	for _, schema := range []string{"", "public", "Bad-Name"} {
		called := false
		err := e.Run(context.Background(), schema, func(context.Context) error {
			called = true
			return nil
		})
		require.Equal(t, apperr.TenantInvalid, apperr.CodeOf(err), schema)
		require.False(t, called)
	}
}

func TestRunInsideTransactionLogsAndFails(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	e := NewTenantExecutor(stubReadiness{}, zap.New(core))

	ctx := tenant.EnterTransaction(context.Background(), "tenant")
	err := e.Run(ctx, "dev__tenant_a", func(context.Context) error { return nil })
	require.ErrorIs(t, err, tenant.ErrRebindInTransaction)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRunLogsBindAndUnbindWithBindingID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	e := NewTenantExecutor(stubReadiness{}, zap.New(core))

	require.NoError(t, e.Run(context.Background(), "dev__tenant_a", func(context.Context) error { return nil }))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "tenant bound", entries[0].Message)
	require.Equal(t, "tenant unbound", entries[1].Message)
	for _, entry := range entries {
		fields := entry.ContextMap()
		require.Equal(t, "dev__tenant_a", fields["schema"])
		require.NotEmpty(t, fields["binding_id"])
	}
}

func TestCallReturnsValue(t *testing.T) {
	t.Parallel()

	e := NewTenantExecutor(stubReadiness{}, zap.NewNop())
	got, err := Call(context.Background(), e, "dev__tenant_a", func(ctx context.Context) (string, error) {
		return tenant.SchemaOrPublic(ctx), nil
	})
	require.NoError(t, err)
	require.Equal(t, "dev__tenant_a", got)
}

func TestRunIfReadyReturnsDefaultWhenNotProvisioned(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		readiness stubReadiness
		want      int
		called    bool
	}{
		{"schema missing", stubReadiness{}, -1, false},
		{"table missing", readyFor("dev__tenant_a"), -1, false},
		{"ready", readyFor("dev__tenant_a", "users"), 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewTenantExecutor(tt.readiness, zap.NewNop())
			called := false
			got, err := RunIfReady(context.Background(), e, "dev__tenant_a", "users", func(context.Context) (int, error) {
				called = true
				return 7, nil
			}, -1)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.called, called)
		})
	}
}

func TestRunIfReadyPropagatesBrokenInfrastructure(t *testing.T) {
	t.Parallel()

	broken := errors.New("connection refused")
	e := NewTenantExecutor(stubReadiness{err: broken}, zap.NewNop())
	_, err := RunIfReady(context.Background(), e, "dev__tenant_a", "users", func(context.Context) (int, error) {
		return 1, nil
	}, 0)
	require.ErrorIs(t, err, broken)
}

func TestRunStrictSurfacesReadinessCodes(t *testing.T) {
	t.Parallel()

	fn := func(context.Context) (bool, error) { return true, nil }

	_, err := RunStrict(context.Background(), NewTenantExecutor(stubReadiness{}, nil), "dev__tenant_a", "users", fn)
	require.Equal(t, apperr.TenantSchemaNotFound, apperr.CodeOf(err))

	_, err = RunStrict(context.Background(), NewTenantExecutor(readyFor("dev__tenant_a"), nil), "dev__tenant_a", "users", fn)
	require.Equal(t, apperr.TenantTableNotFound, apperr.CodeOf(err))

	ok, err := RunStrict(context.Background(), NewTenantExecutor(readyFor("dev__tenant_a", "users"), nil), "dev__tenant_a", "users", fn)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPublicExecutorClearsBinding(t *testing.T) {
	t.Parallel()

	p := NewPublicExecutor(zap.NewNop())
	bound, err := tenant.Bind(context.Background(), "dev__tenant_a")
	require.NoError(t, err)

	err = p.Run(bound, func(ctx context.Context) error {
		_, ok := tenant.Schema(ctx)
		require.False(t, ok)
		require.Equal(t, tenant.PublicSchema, tenant.SchemaOrPublic(ctx))
		return nil
	})
	require.NoError(t, err)

	schema, ok := tenant.Schema(bound)
	require.True(t, ok, "the caller's binding is untouched")
	require.Equal(t, "dev__tenant_a", schema)
}

func TestPublicExecutorRefusesInsideTransaction(t *testing.T) {
	t.Parallel()

	p := NewPublicExecutor(zap.NewNop())
	ctx := tenant.EnterTransaction(context.Background(), "tenant")
	_, err := CallPublic(ctx, p, func(context.Context) (int, error) { return 1, nil })
	require.ErrorIs(t, err, ErrPublicInTransaction)
}
