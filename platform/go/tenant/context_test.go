package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
)

func TestValidateSchemaName(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		wantErr bool
	}{
		{"tenant schema", "dev__tenant_acme", false},
		{"digits allowed", "t_2024", false},
		{"empty", "", true},
		{"public reserved", "public", true},
		{"upper case", "Acme", true},
		{"dash", "acme-co", true},
		{"injection", "acme; drop schema x", true},
		{"quoted", `"acme"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaName(tt.schema)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, apperr.TenantInvalid, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBindDoesNotMutateParent(t *testing.T) {
	parent := context.Background()

	bound, err := Bind(parent, "dev__tenant_acme")
	require.NoError(t, err)

	schema, ok := Schema(bound)
	require.True(t, ok)
	require.Equal(t, "dev__tenant_acme", schema)
	require.NotEmpty(t, BindingID(bound))

	_, ok = Schema(parent)
	require.False(t, ok)
	require.Equal(t, PublicSchema, SchemaOrPublic(parent))
}

func TestBindRefusedWhileTransactionOpen(t *testing.T) {
	unbound := EnterTransaction(context.Background(), "tenant")

	alreadyBound, err := Bind(context.Background(), "dev__tenant_one")
	require.NoError(t, err)
	boundInTx := EnterTransaction(alreadyBound, "control-plane")

	cleared := EnterTransaction(Clear(alreadyBound), "tenant")

	for name, ctx := range map[string]context.Context{
		"unbound":       unbound,
		"already bound": boundInTx,
		"cleared":       cleared,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Bind(ctx, "dev__tenant_two")
			require.ErrorIs(t, err, ErrRebindInTransaction)

			// Even an invalid schema reports the transaction violation first.
			_, err = Bind(ctx, "public")
			require.ErrorIs(t, err, ErrRebindInTransaction)
		})
	}
}

func TestExitTransactionAllowsBindAgain(t *testing.T) {
	ctx := ExitTransaction(EnterTransaction(context.Background(), "tenant"))
	_, ok := ActiveTransaction(ctx)
	require.False(t, ok)

	_, err := Bind(ctx, "dev__tenant_acme")
	require.NoError(t, err)
}

func TestScopeReleaseUnbindsEscapedContexts(t *testing.T) {
	bound, release, err := Scope(context.Background(), "dev__tenant_acme")
	require.NoError(t, err)

	derived := context.WithValue(bound, struct{}{}, "x")
	_, ok := Schema(derived)
	require.True(t, ok)

	release()
	release()

	_, ok = Schema(bound)
	require.False(t, ok)
	_, ok = Schema(derived)
	require.False(t, ok)
	require.Empty(t, BindingID(derived))
}

func TestScopeRejectsPublic(t *testing.T) {
	ctx, release, err := Scope(context.Background(), PublicSchema)
	require.Error(t, err)
	require.Equal(t, apperr.TenantInvalid, apperr.CodeOf(err))
	release()

	_, ok := Schema(ctx)
	require.False(t, ok)
}

func TestClearIsIdempotent(t *testing.T) {
	bound, err := Bind(context.Background(), "dev__tenant_acme")
	require.NoError(t, err)

	cleared := Clear(Clear(bound))
	_, ok := Schema(cleared)
	require.False(t, ok)

	still := Clear(context.Background())
	_, ok = Schema(still)
	require.False(t, ok)
}

func TestBuildSchemaName(t *testing.T) {
	name, err := BuildSchemaName("DEV", "acme-co")
	require.NoError(t, err)
	require.Equal(t, "dev__tenant_acme_co", name)

	_, err = BuildSchemaName("dev", "acme co")
	require.Error(t, err)
}

func TestSpaceRoundTrip(t *testing.T) {
	id := uuid.New()
	ctx := WithSpace(context.Background(), Space{AccountID: id, SchemaName: "dev__tenant_acme"})

	space, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, space.AccountID)
	require.Equal(t, "dev/acme-12345678/", BuildBasePrefix("dev/", "acme", "12345678"))
	require.Len(t, ShortID(id), 8)
}
