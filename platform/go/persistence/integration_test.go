package persistence

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

func TestPersistenceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping persistence integration test in short mode")
	}

	ctx := context.Background()
	pool := mustTestPool(t)

	cp := NewControlPlaneDB(ControlPlaneDBConfig{Pool: pool, Schema: testControlPlaneSchema})
	tdb := NewTenantDB(TenantDBConfig{Pool: pool, ControlPlaneSchema: testControlPlaneSchema})
	prov, err := NewSchemaProvisioner(pool, zaptest.NewLogger(t))
	require.NoError(t, err)

	accounts, err := NewAccountStore(cp)
	require.NoError(t, err)
	users, err := NewTenantUserStore(tdb)
	require.NoError(t, err)
	challenges, err := NewChallengeStore(cp)
	require.NoError(t, err)

	t.Run("public is rejected before any DDL", func(t *testing.T) {
		_, err := prov.EnsureSchemaExistsAndMigrate(ctx, "public")
		require.Equal(t, apperr.TenantInvalid, apperr.CodeOf(err))

		exists, err := prov.TableExists(ctx, "public", "schema_migrations")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("migrations apply exactly once", func(t *testing.T) {
		res, err := prov.EnsureSchemaExistsAndMigrate(ctx, "it__tenant_once")
		require.NoError(t, err)
		require.True(t, res.Created)
		require.Equal(t, []string{"0001", "0002"}, res.Applied)

		res, err = prov.EnsureSchemaExistsAndMigrate(ctx, "it__tenant_once")
		require.NoError(t, err)
		require.False(t, res.Created)
		require.Empty(t, res.Applied)

		ok, err := prov.SchemaExists(ctx, "it__tenant_once")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = prov.TableExists(ctx, "it__tenant_once", "users")
		require.NoError(t, err)
		require.True(t, ok)
	})

	schemaA, schemaB := "it__tenant_a", "it__tenant_b"
	for _, s := range []string{schemaA, schemaB} {
		_, err := prov.EnsureSchemaExistsAndMigrate(ctx, s)
		require.NoError(t, err)
	}
	accountA := uuid.New()

	t.Run("statements follow the binding and connections come back clean", func(t *testing.T) {
		for _, schema := range []string{schemaA, schemaB, schemaA} {
			bound, release, err := tenant.Scope(ctx, schema)
			require.NoError(t, err)

			err = tdb.WithReadTx(bound, func(ctx context.Context, tx pgx.Tx) error {
				var current string
				if err := tx.QueryRow(ctx, `SELECT current_schema()`).Scan(&current); err != nil {
					return err
				}
				require.Equal(t, schema, current)
				return nil
			})
			release()
			require.NoError(t, err)
		}

		// Every pooled connection must have lost the tenant search_path.
		for i := 0; i < 4; i++ {
			var path string
			require.NoError(t, pool.QueryRow(ctx, `SHOW search_path`).Scan(&path))
			require.NotContains(t, path, "it__tenant")
		}
	})

	t.Run("tenant rows stay in their schema", func(t *testing.T) {
		boundA, err := tenant.Bind(ctx, schemaA)
		require.NoError(t, err)
		_, err = users.Create(boundA, TenantUserRecord{
			UserID: uuid.New(), AccountID: accountA, Email: "Only@A.com", Username: "only-a",
			Role: "OWNER", PasswordHash: "x",
		})
		require.NoError(t, err)

		boundB, err := tenant.Bind(ctx, schemaB)
		require.NoError(t, err)
		_, err = users.GetByEmail(boundB, "only@a.com")
		require.ErrorIs(t, err, ErrTenantUserNotFound)

		got, err := users.GetByEmail(boundA, "only@a.com")
		require.NoError(t, err)
		require.Equal(t, accountA, got.AccountID)

		_, err = users.Create(boundA, TenantUserRecord{
			UserID: uuid.New(), AccountID: accountA, Email: "only@a.com", Username: "other",
			Role: "MEMBER", PasswordHash: "x",
		})
		require.ErrorIs(t, err, ErrTenantUserConflict)
	})

	t.Run("suspend counts only newly locked out users and unsuspend restores", func(t *testing.T) {
		schema := "it__tenant_cascade"
		_, err := prov.EnsureSchemaExistsAndMigrate(ctx, schema)
		require.NoError(t, err)
		bound, err := tenant.Bind(ctx, schema)
		require.NoError(t, err)

		var adminSuspended []uuid.UUID
		for i := 0; i < 7; i++ {
			u, err := users.Create(bound, TenantUserRecord{
				UserID: uuid.New(), AccountID: accountA, Email: fmt.Sprintf("u%d@x.com", i),
				Username: fmt.Sprintf("u%d", i), Role: "MEMBER", PasswordHash: "x",
			})
			require.NoError(t, err)
			if i < 2 {
				_, err = users.SetSuspendedByAdmin(bound, u.UserID, true)
				require.NoError(t, err)
				adminSuspended = append(adminSuspended, u.UserID)
			}
		}

		n, err := users.SuspendAllByAccount(bound)
		require.NoError(t, err)
		require.EqualValues(t, 5, n)

		n, err = users.SuspendAllByAccount(bound)
		require.NoError(t, err)
		require.EqualValues(t, 0, n)

		list, _, err := users.List(bound, ListTenantUsersParams{Limit: 50})
		require.NoError(t, err)
		for _, u := range list {
			require.True(t, u.SuspendedByAccount)
		}

		n, err = users.UnsuspendAllByAccount(bound)
		require.NoError(t, err)
		require.EqualValues(t, 5, n)

		list, _, err = users.List(bound, ListTenantUsersParams{Limit: 50})
		require.NoError(t, err)
		for _, u := range list {
			require.False(t, u.SuspendedByAccount)
			require.Equal(t, slices.Contains(adminSuspended, u.UserID), u.SuspendedByAdmin)
		}

		n, err = users.SoftDeleteAll(bound)
		require.NoError(t, err)
		require.EqualValues(t, 7, n)
		n, err = users.SoftDeleteAll(bound)
		require.NoError(t, err)
		require.EqualValues(t, 0, n)
	})

	t.Run("slug and schema stay reserved after soft delete", func(t *testing.T) {
		rec, err := accounts.Create(ctx, AccountRecord{
			AccountID: uuid.New(), DisplayName: "Acme", Slug: "acme", SchemaName: "it__tenant_acme",
			ShortID: "abcd1234", BasePrefix: "it/acme-abcd1234/",
		})
		require.NoError(t, err)
		require.Equal(t, "PROVISIONING", rec.Status)

		action := "CANCEL_ACCOUNT"
		rec, err = accounts.UpdateStatus(ctx, UpdateStatusParams{
			AccountID: rec.AccountID, Status: "CANCELLED", PendingAction: &action, SoftDelete: true,
		})
		require.NoError(t, err)
		require.True(t, rec.IsDeleted)

		pending, err := accounts.ListPendingCascades(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		cleared, err := accounts.MarkCascadeApplied(ctx, rec.AccountID, action)
		require.NoError(t, err)
		require.True(t, cleared)

		_, err = accounts.Create(ctx, AccountRecord{
			AccountID: uuid.New(), DisplayName: "Acme 2", Slug: "acme", SchemaName: "it__tenant_acme_2",
			ShortID: "abcd5678", BasePrefix: "it/acme-abcd5678/",
		})
		require.ErrorIs(t, err, ErrAccountConflict)
	})

	t.Run("challenges are single use and expire", func(t *testing.T) {
		now := time.Now().UTC()
		candidates := []uuid.UUID{uuid.New(), uuid.New()}
		require.NoError(t, challenges.Create(ctx, ChallengeRecord{
			ChallengeID: "live", Email: "a@x.com", CandidateAccountIDs: candidates,
			CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
		}))
		require.NoError(t, challenges.Create(ctx, ChallengeRecord{
			ChallengeID: "stale", Email: "a@x.com", CandidateAccountIDs: candidates,
			CreatedAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-5 * time.Minute),
		}))

		veto := fmt.Errorf("not a candidate")
		_, err := challenges.Consume(ctx, "live", now, func(ChallengeRecord) error { return veto })
		require.ErrorIs(t, err, veto)

		rec, err := challenges.Consume(ctx, "live", now, nil)
		require.NoError(t, err)
		require.ElementsMatch(t, candidates, rec.CandidateAccountIDs)

		_, err = challenges.Consume(ctx, "live", now, nil)
		require.ErrorIs(t, err, ErrChallengeUnavailable)
		_, err = challenges.Consume(ctx, "stale", now, nil)
		require.ErrorIs(t, err, ErrChallengeUnavailable)
		_, err = challenges.Consume(ctx, "unknown", now, nil)
		require.ErrorIs(t, err, ErrChallengeUnavailable)

		purged, err := challenges.PurgeExpired(ctx, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, purged)
	})
}
