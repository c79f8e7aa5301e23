package storage

import (
	"fmt"
	"strings"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines the account base prefix and a logical key into a bucket/path pair.
//   - bucket must come from deployment configuration (one bucket per environment class).
//   - tenant.Space.BasePrefix already includes envKey and trailing slash (e.g. "dev/acme-12345678/").
//   - logicalKey is an account-relative key such as "avatars/<user_id>.png".
func ResolveObjectLocation(space tenant.Space, bucket string, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimSpace(logicalKey)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	if strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key must not traverse prefixes")
	}

	prefix := space.BasePrefix
	if prefix == "" {
		return ObjectLocation{}, fmt.Errorf("account base prefix is missing")
	}

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return ObjectLocation{Bucket: bucket, FullPath: prefix + key}, nil
}
