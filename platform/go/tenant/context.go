package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
)

// PublicSchema is the name that must never be bound explicitly; an unbound
// context is what routes to the control plane.
const PublicSchema = "public"

var schemaPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var (
	// ErrInvalidSchema is returned for empty, malformed or reserved schema names.
	ErrInvalidSchema = apperr.New(apperr.TenantInvalid, "invalid tenant schema")
	// ErrRebindInTransaction signals a programming error: a binding change was
	// attempted while a unit of work is open on the context.
	ErrRebindInTransaction = errors.New("tenant: schema binding changed while a transaction is open")
)

// Space captures the resolved account routing metadata for a request.
// It is attached to the context by middleware once the account has been
// resolved from the token; it does not by itself bind a schema.
type Space struct {
	AccountID   uuid.UUID `json:"accountId"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"displayName"`
	ShortID     string    `json:"shortId"`
	SchemaName  string    `json:"schemaName"`
	BasePrefix  string    `json:"basePrefix"`
	Status      string    `json:"status"`
}

type (
	spaceKey   struct{}
	bindingKey struct{}
	txKey      struct{}
)

type binding struct {
	schema   string
	id       string
	released atomic.Bool
}

var bindingSeq atomic.Uint64

// WithSpace returns a derived context carrying the account Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey{}, space)
}

// FromContext extracts the account Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	space, ok := ctx.Value(spaceKey{}).(Space)
	return space, ok
}

// ValidateSchemaName accepts only ^[a-z0-9_]+$ names other than "public".
func ValidateSchemaName(name string) error {
	switch {
	case name == "":
		return apperr.Wrap(apperr.TenantInvalid, "tenant schema is required", ErrInvalidSchema)
	case name == PublicSchema:
		return apperr.Wrap(apperr.TenantInvalid, `schema "public" cannot be bound as a tenant`, ErrInvalidSchema)
	case !schemaPattern.MatchString(name):
		return apperr.Wrap(apperr.TenantInvalid, fmt.Sprintf("schema %q must match %s", name, schemaPattern), ErrInvalidSchema)
	}
	return nil
}

// Bind returns a context bound to schema. It fails when a transaction is open
// on ctx, whatever the current binding is, and when schema is not a valid
// tenant schema name.
func Bind(ctx context.Context, schema string) (context.Context, error) {
	if runtime, ok := ActiveTransaction(ctx); ok {
		return ctx, fmt.Errorf("%w: %s transaction open, refusing to bind %q", ErrRebindInTransaction, runtime, schema)
	}
	if err := ValidateSchemaName(schema); err != nil {
		return ctx, err
	}

	b := &binding{schema: schema, id: "b" + strconv.FormatUint(bindingSeq.Add(1), 10)}
	return context.WithValue(ctx, bindingKey{}, b), nil
}

// Clear returns a context with no binding. Safe to call any number of times.
func Clear(ctx context.Context) context.Context {
	if _, ok := Schema(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, bindingKey{}, (*binding)(nil))
}

// Scope binds schema and returns a release func. After release, the returned
// context (and anything derived from it) reports no binding, so a context that
// escaped the scope can no longer route to the tenant.
func Scope(ctx context.Context, schema string) (context.Context, func(), error) {
	bound, err := Bind(ctx, schema)
	if err != nil {
		return ctx, func() {}, err
	}
	b, _ := bound.Value(bindingKey{}).(*binding)
	return bound, func() { b.released.Store(true) }, nil
}

// Schema reports the bound schema with no masking: ("", false) means unbound.
func Schema(ctx context.Context) (string, bool) {
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok || b == nil || b.released.Load() {
		return "", false
	}
	return b.schema, true
}

// SchemaOrPublic returns the bound schema or PublicSchema when unbound.
func SchemaOrPublic(ctx context.Context) string {
	if schema, ok := Schema(ctx); ok {
		return schema
	}
	return PublicSchema
}

// BindingID identifies the active binding for log correlation; "" when unbound.
func BindingID(ctx context.Context) string {
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok || b == nil || b.released.Load() {
		return ""
	}
	return b.id
}

// EnterTransaction marks ctx as carrying an open unit of work for runtime.
func EnterTransaction(ctx context.Context, runtime string) context.Context {
	return context.WithValue(ctx, txKey{}, runtime)
}

// ExitTransaction returns a context that no longer reports an open unit of work.
func ExitTransaction(ctx context.Context) context.Context {
	if _, ok := ActiveTransaction(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, "")
}

// ActiveTransaction returns the runtime of the open unit of work, if any.
func ActiveTransaction(ctx context.Context) (string, bool) {
	runtime, ok := ctx.Value(txKey{}).(string)
	return runtime, ok && runtime != ""
}
