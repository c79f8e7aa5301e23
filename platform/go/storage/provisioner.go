package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// markerObject is written under every provisioned prefix so the prefix is
// visible in bucket listings before the account stores anything.
const markerObject = ".keep"

// PrefixProvisioner creates and checks an account's storage prefix.
// Ensure is mutating/idempotent, Check is read-only.
type PrefixProvisioner interface {
	Ensure(ctx context.Context, prefix string) error
	Check(ctx context.Context, prefix string) (bool, error)
}

// GCSPrefixProvisioner provisions prefixes in a Google Cloud Storage bucket.
type GCSPrefixProvisioner struct {
	client *storage.Client
	bucket string
}

func NewGCSPrefixProvisioner(client *storage.Client, bucket string) *GCSPrefixProvisioner {
	if client == nil {
		panic("gcs prefix provisioner requires client")
	}
	if bucket == "" {
		panic("gcs prefix provisioner requires bucket")
	}
	return &GCSPrefixProvisioner{client: client, bucket: bucket}
}

func (p *GCSPrefixProvisioner) Ensure(ctx context.Context, prefix string) error {
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return err
	}
	loc, err := ResolveObjectLocation(tenant.Space{BasePrefix: prefix}, p.bucket, markerObject)
	if err != nil {
		return err
	}

	obj := p.client.Bucket(loc.Bucket).Object(loc.FullPath)
	// DoesNotExist makes the write a no-op on re-runs.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "text/plain"
	if _, err := w.Write([]byte{}); err != nil {
		_ = w.Close()
		return fmt.Errorf("write prefix marker: %w", err)
	}
	if err := w.Close(); err != nil && !isPreconditionFailed(err) {
		return fmt.Errorf("close prefix marker: %w", err)
	}
	return nil
}

func (p *GCSPrefixProvisioner) Check(ctx context.Context, prefix string) (bool, error) {
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return false, err
	}

	bkt := p.client.Bucket(p.bucket)
	if _, err := bkt.Attrs(ctx); err != nil {
		return false, fmt.Errorf("bucket attrs: %w", err)
	}

	// List at most one object to validate the prefix exists.
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	_, err = it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list prefix: %w", err)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// LocalPrefixProvisioner maps prefixes to directories under BasePath, for local dev.
type LocalPrefixProvisioner struct {
	BasePath string
}

func NewLocalPrefixProvisioner(basePath string) *LocalPrefixProvisioner {
	if basePath == "" {
		panic("local prefix provisioner requires basePath")
	}
	return &LocalPrefixProvisioner{BasePath: basePath}
}

func (p *LocalPrefixProvisioner) Ensure(_ context.Context, prefix string) error {
	full, err := p.path(prefix)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("create prefix path: %w", err)
	}
	return nil
}

func (p *LocalPrefixProvisioner) Check(_ context.Context, prefix string) (bool, error) {
	full, err := p.path(prefix)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (p *LocalPrefixProvisioner) path(prefix string) (string, error) {
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return "", err
	}
	full := filepath.Join(p.BasePath, filepath.FromSlash(prefix))
	base := filepath.Clean(p.BasePath)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("prefix %q escapes base path", prefix)
	}
	return full, nil
}

func normalizePrefix(prefix string) (string, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", fmt.Errorf("storage prefix is required")
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix, nil
}

var (
	_ PrefixProvisioner = (*GCSPrefixProvisioner)(nil)
	_ PrefixProvisioner = (*LocalPrefixProvisioner)(nil)
)
