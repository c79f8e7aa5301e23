package requesttrace

import (
	"context"
	"errors"

	"github.com/google/uuid"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "TENANCY_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for traceability and auditing.
// UserID is optional; set only when ActorKind is user.
// AccountID is nil for control-plane credentials.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *string
	Domain    platformauth.Domain
	AccountID *uuid.UUID
	RequestID string
}

// Actor renders the actor for audit rows, e.g. "user:<id>" or "system".
func (a AuditInfo) Actor() string {
	if a.ActorKind == ActorKindUser && a.UserID != nil {
		return string(a.ActorKind) + ":" + *a.UserID
	}
	return string(a.ActorKind)
}

// RequestIDOrNil returns nil when no request id was captured.
func (a AuditInfo) RequestIDOrNil() *string {
	if a.RequestID == "" {
		return nil
	}
	id := a.RequestID
	return &id
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrSystem returns the AuditInfo stored on the context, or a system record when absent.
// Background jobs carry no request, so their writes are attributed to the system.
func FromContextOrSystem(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return System("")
}

// FromCredentials builds an AuditInfo from authenticated user credentials and a request ID.
// Returns an error when creds are nil or missing a UserID.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (AuditInfo, error) {
	if creds == nil {
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	}
	if creds.Id == "" {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	id := creds.Id
	return AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &id,
		Domain:    creds.Domain,
		AccountID: creds.AccountID,
		RequestID: requestID,
	}, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests (e.g., login) where no user ID exists yet.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background/system operations.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
