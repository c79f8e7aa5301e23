package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/contracts"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
)

func authInput(scheme string, creds *platformauth.UserCredentials) *openapi3filter.AuthenticationInput {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if creds != nil {
		req = req.WithContext(platformauth.WithUser(req.Context(), creds))
	}
	return &openapi3filter.AuthenticationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{Request: req},
		SecuritySchemeName:     scheme,
	}
}

func TestValidateAuthenticationViaSwagger(t *testing.T) {
	account := uuid.New()
	admin := &platformauth.UserCredentials{Id: "a", Domain: platformauth.DomainControlPlane, IsAdmin: true}
	nonAdmin := &platformauth.UserCredentials{Id: "b", Domain: platformauth.DomainControlPlane}
	tenantUser := &platformauth.UserCredentials{Id: "c", Domain: platformauth.DomainTenant, AccountID: &account, SchemaName: "dev__tenant_acme"}

	tests := []struct {
		name    string
		scheme  string
		creds   *platformauth.UserCredentials
		wantErr bool
	}{
		{"admin on admin scheme", SchemeAdmin, admin, false},
		{"non admin on admin scheme", SchemeAdmin, nonAdmin, true},
		{"tenant on admin scheme", SchemeAdmin, tenantUser, true},
		{"tenant on tenant scheme", SchemeTenant, tenantUser, false},
		{"admin on tenant scheme", SchemeTenant, admin, true},
		{"anonymous", SchemeTenant, nil, true},
		{"unknown scheme", "apiKey", admin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAuthenticationViaSwagger(context.Background(), authInput(tt.scheme, tt.creds))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSpecValidator(t *testing.T) {
	doc, err := contracts.Load(context.Background())
	require.NoError(t, err)

	reached := false
	h := NewSpecValidator(doc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	account := uuid.New()
	tenantUser := &platformauth.UserCredentials{Id: "c", Domain: platformauth.DomainTenant, AccountID: &account, SchemaName: "dev__tenant_acme"}

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		creds    *platformauth.UserCredentials
		wantCode int
		wantNext bool
	}{
		{"valid public login", http.MethodPost, "/api/v1/auth/login", `{"email":"a@x.io","password":"pw"}`, nil, http.StatusOK, true},
		{"login without password", http.MethodPost, "/api/v1/auth/login", `{"email":"a@x.io"}`, nil, http.StatusBadRequest, false},
		{"unknown login field", http.MethodPost, "/api/v1/auth/login", `{"email":"a@x.io","password":"pw","tenant":"acme"}`, nil, http.StatusBadRequest, false},
		{"admin route anonymous", http.MethodGet, "/api/v1/admin/accounts", "", nil, http.StatusUnauthorized, false},
		{"admin route with tenant token", http.MethodGet, "/api/v1/admin/accounts", "", tenantUser, http.StatusUnauthorized, false},
		{"tenant route with tenant token", http.MethodGet, "/api/v1/tenant/users?page=1", "", tenantUser, http.StatusOK, true},
		{"undeclared route", http.MethodGet, "/api/v1/nope", "", tenantUser, http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			if tt.creds != nil {
				req = req.WithContext(platformauth.WithUser(req.Context(), tt.creds))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantNext, reached)
			if !tt.wantNext {
				require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			}
			if tt.wantCode == http.StatusBadRequest {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, "VALIDATION_FAILED", body["code"])
			}
		})
	}
}
