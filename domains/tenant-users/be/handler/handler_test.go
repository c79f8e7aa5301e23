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

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenant-users/be/service"
)

type mockService struct {
	createFn    func(ctx context.Context, input service.CreateInput) (service.User, error)
	listFn      func(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	getFn       func(ctx context.Context, id uuid.UUID) (service.User, error)
	suspendFn   func(ctx context.Context, id uuid.UUID) (service.User, error)
	unsuspendFn func(ctx context.Context, id uuid.UUID) (service.User, error)
	deleteFn    func(ctx context.Context, id uuid.UUID) error
}

func (m *mockService) Create(ctx context.Context, input service.CreateInput) (service.User, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, input)
}

func (m *mockService) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, opts)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (service.User, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockService) Suspend(ctx context.Context, id uuid.UUID) (service.User, error) {
	if m.suspendFn == nil {
		panic("suspendFn not configured")
	}
	return m.suspendFn(ctx, id)
}

func (m *mockService) Unsuspend(ctx context.Context, id uuid.UUID) (service.User, error) {
	if m.unsuspendFn == nil {
		panic("unsuspendFn not configured")
	}
	return m.unsuspendFn(ctx, id)
}

func (m *mockService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn == nil {
		panic("deleteFn not configured")
	}
	return m.deleteFn(ctx, id)
}

func serve(t *testing.T, svc Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateUserSuccess(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	now := time.Now().UTC()
	svc := &mockService{}
	svc.createFn = func(_ context.Context, input service.CreateInput) (service.User, error) {
		require.Equal(t, "jane@example.com", input.Email)
		require.Equal(t, "admin", input.Role)
		return service.User{ID: id, Email: input.Email, FullName: "Jane", Role: "admin", CreatedAt: now, UpdatedAt: now}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/tenant/users",
		strings.NewReader(`{"email":"jane@example.com","fullName":"Jane","role":"admin","password":"pw"}`))
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/v1/tenant/users/"+id.String(), rec.Header().Get("Location"))
	require.NotContains(t, rec.Body.String(), "password")
}

func TestCreateUserValidationErrors(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.createFn = func(context.Context, service.CreateInput) (service.User, error) {
		return service.User{}, &service.ValidationError{Fields: service.FieldErrors{"email": {"email is required"}}}
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/tenant/users", strings.NewReader(`{"fullName":"x"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Code   string              `json:"code"`
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_FAILED", body.Code)
	require.Equal(t, []string{"email is required"}, body.Errors["email"])
}

func TestCreateUserConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.createFn = func(context.Context, service.CreateInput) (service.User, error) {
		return service.User{}, service.ErrConflict
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/tenant/users", strings.NewReader(`{"email":"a@x.com"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSuspendAndUnsuspend(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	svc := &mockService{}
	svc.suspendFn = func(_ context.Context, got uuid.UUID) (service.User, error) {
		require.Equal(t, id, got)
		return service.User{ID: id, SuspendedByAdmin: true}, nil
	}
	svc.unsuspendFn = func(_ context.Context, got uuid.UUID) (service.User, error) {
		return service.User{ID: id, SuspendedByAccount: true}, nil
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/tenant/users/"+id.String()+"/suspend", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"suspendedByAdmin":true`)

	rec = serve(t, svc, httptest.NewRequest(http.MethodPost, "/tenant/users/"+id.String()+"/unsuspend", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"suspendedByAccount":true`)
}

func TestDeleteUser(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.deleteFn = func(context.Context, uuid.UUID) error { return nil }
	rec := serve(t, svc, httptest.NewRequest(http.MethodDelete, "/tenant/users/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	svc.deleteFn = func(context.Context, uuid.UUID) error { return service.ErrNotFound }
	rec = serve(t, svc, httptest.NewRequest(http.MethodDelete, "/tenant/users/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.listFn = func(_ context.Context, opts service.ListOptions) (service.ListResult, error) {
		require.Equal(t, 3, opts.Page)
		require.Equal(t, 10, opts.PageSize)
		return service.ListResult{Users: []service.User{{ID: uuid.New(), Email: "a@x.com"}}, Page: 3, PageSize: 10, TotalItems: 21, TotalPages: 3}, nil
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/tenant/users?page=3&pageSize=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, 21, body.TotalItems)
}
