package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

func TestResolveObjectLocation(t *testing.T) {
	space := tenant.Space{
		AccountID:  uuid.New(),
		Slug:       "acme-co",
		ShortID:    "12345678",
		SchemaName: "dev__tenant_acme_co",
		BasePrefix: "dev/acme-co-12345678/",
	}

	userID := uuid.New()
	loc, err := ResolveObjectLocation(space, "palmyra-dev-assets", "avatars/"+userID.String()+".png")
	require.NoError(t, err)
	require.Equal(t, "palmyra-dev-assets", loc.Bucket)
	require.Equal(t, "dev/acme-co-12345678/avatars/"+userID.String()+".png", loc.FullPath)
}

func TestResolveObjectLocation_trimsSlashAndValidates(t *testing.T) {
	space := tenant.Space{
		AccountID:  uuid.New(),
		Slug:       "acme-co",
		ShortID:    "12345678",
		SchemaName: "dev__tenant_acme_co",
		BasePrefix: "dev/acme-co-12345678", // no trailing slash
	}

	loc, err := ResolveObjectLocation(space, "bucket", "/avatars/user.png")
	require.NoError(t, err)
	require.Equal(t, "dev/acme-co-12345678/avatars/user.png", loc.FullPath)

	_, err = ResolveObjectLocation(space, "", "file")
	require.Error(t, err)

	_, err = ResolveObjectLocation(space, "bucket", " ")
	require.Error(t, err)

	_, err = ResolveObjectLocation(space, "bucket", "../other-account/file")
	require.Error(t, err)

	space.BasePrefix = ""
	_, err = ResolveObjectLocation(space, "bucket", "file")
	require.Error(t, err)
}

func TestLocalPrefixProvisioner(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	p := NewLocalPrefixProvisioner(base)

	ok, err := p.Check(ctx, "dev/acme-12345678/")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.Ensure(ctx, "dev/acme-12345678/"))
	require.NoError(t, p.Ensure(ctx, "/dev/acme-12345678"), "re-running is a no-op")

	info, err := os.Stat(filepath.Join(base, "dev", "acme-12345678"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	ok, err = p.Check(ctx, "dev/acme-12345678/")
	require.NoError(t, err)
	require.True(t, ok)

	require.Error(t, p.Ensure(ctx, ""))
	require.Error(t, p.Ensure(ctx, "../escape"))
}
