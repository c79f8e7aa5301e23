package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
)

type mockService struct {
	createFn          func(ctx context.Context, input service.CreateInput) (service.Account, error)
	getFn             func(ctx context.Context, id uuid.UUID) (service.Account, error)
	listFn            func(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	provisionFn       func(ctx context.Context, id uuid.UUID, input service.ProvisionInput) (service.ProvisionResult, error)
	provisionStatusFn func(ctx context.Context, id uuid.UUID) (service.ProvisioningStatus, error)
	changeStatusFn    func(ctx context.Context, id uuid.UUID, input service.ChangeStatusInput) (service.StatusChangeResult, error)
}

func (m *mockService) Create(ctx context.Context, input service.CreateInput) (service.Account, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, input)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (service.Account, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockService) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, opts)
}

func (m *mockService) Provision(ctx context.Context, id uuid.UUID, input service.ProvisionInput) (service.ProvisionResult, error) {
	if m.provisionFn == nil {
		panic("provisionFn not configured")
	}
	return m.provisionFn(ctx, id, input)
}

func (m *mockService) ProvisionStatus(ctx context.Context, id uuid.UUID) (service.ProvisioningStatus, error) {
	if m.provisionStatusFn == nil {
		panic("provisionStatusFn not configured")
	}
	return m.provisionStatusFn(ctx, id)
}

func (m *mockService) ChangeStatus(ctx context.Context, id uuid.UUID, input service.ChangeStatusInput) (service.StatusChangeResult, error) {
	if m.changeStatusFn == nil {
		panic("changeStatusFn not configured")
	}
	return m.changeStatusFn(ctx, id, input)
}

func serve(t *testing.T, svc Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestChangeStatusResponseShape(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	effective := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockService{}
	svc.changeStatusFn = func(_ context.Context, got uuid.UUID, input service.ChangeStatusInput) (service.StatusChangeResult, error) {
		require.Equal(t, id, got)
		require.Equal(t, service.StatusCancelled, input.Status)
		require.Equal(t, "fraud", *input.Reason)
		return service.StatusChangeResult{
			Account:        service.Account{ID: id, Status: service.StatusCancelled, SchemaName: "dev__tenant_acme"},
			PreviousStatus: service.StatusActive,
			EffectiveAt:    effective,
			SideEffects: service.CascadeResult{
				Action:             service.SideEffectCancelAccount,
				TenantUsersUpdated: true,
				TenantUsersCount:   3,
			},
		}, nil
	}

	req := httptest.NewRequest(http.MethodPatch, "/admin/accounts/"+id.String()+"/status",
		strings.NewReader(`{"status":"cancelled","reason":"fraud"}`))
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"id": "`+id.String()+`",
		"status": "CANCELLED",
		"previousStatus": "ACTIVE",
		"effectiveAt": "2026-03-01T10:00:00Z",
		"schemaName": "dev__tenant_acme",
		"sideEffects": {"tenantUsersUpdated": true, "action": "CANCELLED", "tenantUsersCount": 3}
	}`, rec.Body.String())
}

func TestChangeStatusRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPatch, "/admin/accounts/"+uuid.NewString()+"/status",
		strings.NewReader(`{"status":"PAUSED"}`))
	rec := serve(t, &mockService{}, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestChangeStatusInvalidTransitionIsConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.changeStatusFn = func(context.Context, uuid.UUID, service.ChangeStatusInput) (service.StatusChangeResult, error) {
		return service.StatusChangeResult{}, apperr.New(apperr.InvalidStatusTransition, "account status cannot change from CANCELLED to ACTIVE")
	}

	req := httptest.NewRequest(http.MethodPatch, "/admin/accounts/"+uuid.NewString()+"/status",
		strings.NewReader(`{"status":"ACTIVE"}`))
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(apperr.InvalidStatusTransition), body["code"])
}

func TestCreateSetsLocation(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	svc := &mockService{}
	svc.createFn = func(_ context.Context, input service.CreateInput) (service.Account, error) {
		require.Equal(t, "acme", input.Slug)
		return service.Account{ID: id, Slug: "acme", Status: service.StatusProvisioning}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/accounts", strings.NewReader(`{"slug":"acme","displayName":"Acme"}`))
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/v1/admin/accounts/"+id.String(), rec.Header().Get("Location"))
}

func TestGetMapsErrors(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.getFn = func(context.Context, uuid.UUID) (service.Account, error) {
		return service.Account{}, service.ErrNotFound
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/admin/accounts/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/admin/accounts/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPassesFilters(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.listFn = func(_ context.Context, opts service.ListOptions) (service.ListResult, error) {
		require.Equal(t, 2, opts.Page)
		require.NotNil(t, opts.Status)
		require.Equal(t, service.StatusSuspended, *opts.Status)
		require.True(t, opts.IncludeDeleted)
		return service.ListResult{Page: 2, PageSize: 20}, nil
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/admin/accounts?page=2&status=suspended&includeDeleted=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[],"page":2,"pageSize":20,"totalItems":0,"totalPages":0}`, rec.Body.String())
}

func TestProvisionWithoutBody(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	svc := &mockService{}
	svc.provisionFn = func(_ context.Context, _ uuid.UUID, input service.ProvisionInput) (service.ProvisionResult, error) {
		require.Nil(t, input.Owner)
		return service.ProvisionResult{Account: service.Account{ID: id, Status: service.StatusActive}}, nil
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/admin/accounts/"+id.String()+"/provision", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []any{}, body["appliedMigrations"])
}
