package tenant

import (
	"strings"

	"github.com/google/uuid"
)

// ToSnake converts a kebab-case slug into snake_case for schema names.
func ToSnake(slug string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(slug)), "-", "_")
}

// ShortID returns the first 8 hexadecimal characters of a UUID (without dashes).
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:8]
}

// BuildSchemaName returns the canonical schema for an account slug:
// <envKey>__tenant_<slug_snake>. The result is validated against the schema grammar.
func BuildSchemaName(envKey, slug string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(envKey)) + "__tenant_" + ToSnake(slug)
	if err := ValidateSchemaName(name); err != nil {
		return "", err
	}
	return name, nil
}

// BuildBasePrefix returns `<envKey>/<slug>-<shortId>/`, the storage root of an account.
func BuildBasePrefix(envKey, slug, shortID string) string {
	envKey = strings.TrimSuffix(strings.TrimSpace(envKey), "/")
	return envKey + "/" + slug + "-" + shortID + "/"
}
