package persistence

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// AccessMode tells the router whether a checkout may mutate data.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

func (m AccessMode) String() string {
	if m == AccessWrite {
		return "write"
	}
	return "read"
}

// ErrNoTenantBound is returned when tenant-routed code tries to write with no
// schema bound. Writes never fall back to the control-plane schema.
var ErrNoTenantBound = apperr.New(apperr.NoTenantBound, "no tenant schema bound for write")

// setSearchPathSQL scopes the search_path to the current transaction only, so a
// pooled connection carries nothing over to its next checkout.
const setSearchPathSQL = `SELECT set_config('search_path', $1, true)`

// SchemaRouter resolves which schema a tenant-routed connection must use.
type SchemaRouter struct {
	controlPlaneSchema string
}

func NewSchemaRouter(controlPlaneSchema string) SchemaRouter {
	controlPlaneSchema = strings.TrimSpace(controlPlaneSchema)
	if controlPlaneSchema == "" {
		controlPlaneSchema = tenant.PublicSchema
	}
	return SchemaRouter{controlPlaneSchema: controlPlaneSchema}
}

// ControlPlaneSchema returns the default schema for unbound reads.
func (r SchemaRouter) ControlPlaneSchema() string {
	return r.controlPlaneSchema
}

// BeforeConnectionUse is called on every checkout of the tenant runtime. A bound
// context routes to its schema and nothing else; an unbound one routes to the
// control plane for reads and fails for writes.
func (r SchemaRouter) BeforeConnectionUse(ctx context.Context, mode AccessMode) (string, error) {
	schema, ok := tenant.Schema(ctx)
	if !ok {
		if mode == AccessWrite {
			return "", ErrNoTenantBound
		}
		return r.controlPlaneSchema, nil
	}
	if err := tenant.ValidateSchemaName(schema); err != nil {
		return "", err
	}
	return schema, nil
}

func searchPath(schema string) string {
	return pgx.Identifier{schema}.Sanitize()
}
