package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
)

type ctxKey string

const (
	ctxUserCredentials ctxKey = "TENANCY_USER_CREDENTIALS"
)

// Domain tags what a credential may be used for.
type Domain string

const (
	DomainControlPlane  Domain = "CONTROLPLANE"
	DomainTenant        Domain = "TENANT"
	DomainRefresh       Domain = "REFRESH"
	DomainPasswordReset Domain = "PASSWORD_RESET"
)

func (d Domain) Valid() bool {
	switch d {
	case DomainControlPlane, DomainTenant, DomainRefresh, DomainPasswordReset:
		return true
	}
	return false
}

// Claim names carried by tokens issued by TokenService.
const (
	ClaimDomain  = "dom"
	ClaimAccount = "acc"
	ClaimSchema  = "sch"
	ClaimRole    = "role"
)

type UserCredentials struct {
	Id            string
	Email         string
	EmailVerified bool
	Name          *string
	IsAdmin       bool
	Role          string
	Domain        Domain
	AccountID     *uuid.UUID
	// SchemaName is only set for TENANT credentials.
	SchemaName string
}

func UserFromContext(ctx context.Context) (*UserCredentials, bool) {
	v := ctx.Value(ctxUserCredentials)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*UserCredentials)
	return u, ok
}

// WithUser stores credentials on the context.
func WithUser(ctx context.Context, creds *UserCredentials) context.Context {
	return context.WithValue(ctx, ctxUserCredentials, creds)
}

// VerifyFunc validates the incoming JWT and returns its claims map.
type VerifyFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// ExtractFunc converts a claims map into UserCredentials.
type ExtractFunc func(claims map[string]interface{}) (*UserCredentials, error)

// JWT parses the request and sets the context credentials using the provided verify/extract functions.
func JWT(verify VerifyFunc, extract ExtractFunc) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.JWT: verify func must not be nil")
	}
	if extract == nil {
		extract = DefaultCredentialExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, found := ExtractJWTToken(r)
			if token == "" || !found {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			creds, err := extract(claims)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="invalid claims"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), creds)))
		})
	}
}

// DefaultCredentialExtractor converts claims into UserCredentials. Tokens with no
// domain claim come from the platform identity provider and are CONTROLPLANE.
func DefaultCredentialExtractor(claims map[string]interface{}) (*UserCredentials, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}

	domain := Domain(extractStringClaim(claims, ClaimDomain))
	if domain == "" {
		domain = DomainControlPlane
	}
	if !domain.Valid() {
		return nil, fmt.Errorf("unknown token domain %q", domain)
	}

	creds := &UserCredentials{
		Id:            fallbackStringClaim(claims, []string{"uid", "user_id", "sub"}, "unknown-user"),
		Email:         extractStringClaim(claims, "email"),
		EmailVerified: extractBoolClaim(claims, "email_verified"),
		Name:          extractOptionalStringClaim(claims, "name"),
		IsAdmin:       extractBoolClaim(claims, "isAdmin"),
		Role:          extractStringClaim(claims, ClaimRole),
		Domain:        domain,
		SchemaName:    extractStringClaim(claims, ClaimSchema),
	}

	if raw := extractStringClaim(claims, ClaimAccount); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid account claim: %w", err)
		}
		creds.AccountID = &id
	}

	if domain == DomainTenant && (creds.AccountID == nil || creds.SchemaName == "") {
		return nil, errors.New("tenant credentials require account and schema claims")
	}

	return creds, nil
}

func extractBoolClaim(claims map[string]interface{}, key string) bool {
	if v, ok := claims[key]; ok {
		if boolVal, valid := v.(bool); valid {
			return boolVal
		}
	}
	return false
}

func extractStringClaim(claims map[string]interface{}, key string) string {
	if v, ok := claims[key]; ok {
		if strVal, valid := v.(string); valid {
			return strVal
		}
	}
	return ""
}

func extractOptionalStringClaim(claims map[string]interface{}, key string) *string {
	if v, ok := claims[key]; ok {
		if strVal, valid := v.(string); valid && strVal != "" {
			return &strVal
		}
	}
	return nil
}

func parseUnsignedJWTClaims(token string) (map[string]interface{}, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, errors.New("invalid token format")
	}

	payload := parts[1]
	switch len(payload) % 4 {
	case 2:
		payload += "=="
	case 3:
		payload += "="
	}

	decoded, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	claims := make(map[string]interface{})
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	return claims, nil
}

func fallbackStringClaim(claims map[string]interface{}, keys []string, def string) string {
	for _, key := range keys {
		if v := extractStringClaim(claims, key); v != "" {
			return v
		}
	}
	return def
}

// FirebaseTokenVerifier returns a VerifyFunc that validates platform admin tokens via Firebase Auth.
// Domain claims are stripped: Firebase tokens are always CONTROLPLANE.
func FirebaseTokenVerifier(fbAuth *auth.Client) VerifyFunc {
	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		t, err := fbAuth.VerifyIDToken(ctx, token)
		if err != nil {
			return nil, err
		}

		claims := make(map[string]interface{}, len(t.Claims)+2)
		for k, v := range t.Claims {
			claims[k] = v
		}
		claims["uid"] = t.UID
		claims["sub"] = t.Subject
		claims[ClaimDomain] = string(DomainControlPlane)
		delete(claims, ClaimAccount)
		delete(claims, ClaimSchema)

		return claims, nil
	}
}

// UnsignedTokenVerifier returns a VerifyFunc that decodes unsigned JWT payloads
// without validation. Only CONTROLPLANE payloads are accepted, so a dev token can
// never claim a tenant schema.
func UnsignedTokenVerifier() VerifyFunc {
	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims, err := parseUnsignedJWTClaims(token)
		if err != nil {
			return nil, err
		}
		if dom := extractStringClaim(claims, ClaimDomain); dom != "" && Domain(dom) != DomainControlPlane {
			return nil, fmt.Errorf("unsigned %s tokens are not accepted", dom)
		}
		return claims, nil
	}
}

// FirstOf tries each verifier in order and returns the first success.
func FirstOf(verifiers ...VerifyFunc) VerifyFunc {
	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		var errs []error
		for _, verify := range verifiers {
			if verify == nil {
				continue
			}
			claims, err := verify(ctx, token)
			if err == nil {
				return claims, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, errors.New("no token verifier configured")
		}
		return nil, errors.Join(errs...)
	}
}

// RequireRole is a helper to gate endpoints inside handlers if necessary:
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := UserFromContext(r.Context())
			if !ok || creds == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			switch role {
			case "admin":
				if !creds.IsAdmin {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireDomain rejects requests whose credentials were issued for another domain.
func RequireDomain(domain Domain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := UserFromContext(r.Context())
			if !ok || creds == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if creds.Domain != domain {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenantRole admits TENANT credentials whose role claim equals role.
func RequireTenantRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := UserFromContext(r.Context())
			if !ok || creds == nil || creds.Domain != DomainTenant || creds.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
