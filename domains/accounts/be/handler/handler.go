package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/httpjson"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/problem"
)

// Service is the subset of the accounts service the HTTP layer needs.
type Service interface {
	Create(ctx context.Context, input service.CreateInput) (service.Account, error)
	Get(ctx context.Context, id uuid.UUID) (service.Account, error)
	List(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	Provision(ctx context.Context, id uuid.UUID, input service.ProvisionInput) (service.ProvisionResult, error)
	ProvisionStatus(ctx context.Context, id uuid.UUID) (service.ProvisioningStatus, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, input service.ChangeStatusInput) (service.StatusChangeResult, error)
}

// Handler serves the /admin/accounts routes.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("accounts service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the account routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/accounts", h.List)
	r.Post("/admin/accounts", h.Create)
	r.Get("/admin/accounts/{accountId}", h.Get)
	r.Post("/admin/accounts/{accountId}/provision", h.Provision)
	r.Get("/admin/accounts/{accountId}/provision-status", h.ProvisionStatus)
	r.Patch("/admin/accounts/{accountId}/status", h.ChangeStatus)
}

type accountResponse struct {
	ID              uuid.UUID            `json:"id"`
	DisplayName     string               `json:"displayName"`
	Slug            string               `json:"slug"`
	SchemaName      string               `json:"schemaName"`
	ShortID         string               `json:"shortId"`
	BasePrefix      string               `json:"basePrefix"`
	Status          string               `json:"status"`
	StatusReason    *string              `json:"statusReason,omitempty"`
	StatusChangedAt time.Time            `json:"statusChangedAt"`
	TrialEndsAt     *time.Time           `json:"trialEndsAt,omitempty"`
	PaymentDueAt    *time.Time           `json:"paymentDueAt,omitempty"`
	IsDeleted       bool                 `json:"isDeleted"`
	DeletedAt       *time.Time           `json:"deletedAt,omitempty"`
	Provisioning    provisioningResponse `json:"provisioning"`
	PendingCascade  *string              `json:"pendingCascade,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

type provisioningResponse struct {
	DBReady           bool       `json:"dbReady"`
	StorageReady      bool       `json:"storageReady"`
	LastProvisionedAt *time.Time `json:"lastProvisionedAt,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
}

type listResponse struct {
	Items      []accountResponse `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
}

type createRequest struct {
	Slug         string     `json:"slug"`
	DisplayName  string     `json:"displayName"`
	TrialEndsAt  *time.Time `json:"trialEndsAt"`
	PaymentDueAt *time.Time `json:"paymentDueAt"`
}

type ownerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

type provisionRequest struct {
	Owner *ownerRequest `json:"owner"`
}

type provisionResponse struct {
	Account           accountResponse `json:"account"`
	AppliedMigrations []string        `json:"appliedMigrations"`
	OwnerUserID       *uuid.UUID      `json:"ownerUserId,omitempty"`
}

type statusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason"`
}

type sideEffectsResponse struct {
	TenantUsersUpdated bool   `json:"tenantUsersUpdated"`
	Action             string `json:"action"`
	TenantUsersCount   int64  `json:"tenantUsersCount"`
}

type statusResponse struct {
	ID             uuid.UUID           `json:"id"`
	Status         string              `json:"status"`
	PreviousStatus string              `json:"previousStatus"`
	EffectiveAt    time.Time           `json:"effectiveAt"`
	SchemaName     string              `json:"schemaName"`
	SideEffects    sideEffectsResponse `json:"sideEffects"`
}

// List implements GET /admin/accounts
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts := service.ListOptions{
		Page:           httpjson.QueryInt(r, "page", 1),
		PageSize:       httpjson.QueryInt(r, "pageSize", 20),
		IncludeDeleted: httpjson.QueryBool(r, "includeDeleted"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := service.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			problem.WriteError(w, r, h.logger, err)
			return
		}
		opts.Status = &status
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	items := make([]accountResponse, 0, len(result.Accounts))
	for _, a := range result.Accounts {
		items = append(items, toAccountResponse(a))
	}
	httpjson.Write(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// Create implements POST /admin/accounts
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpjson.Read(w, r, &body); err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	a, err := h.svc.Create(r.Context(), service.CreateInput{
		Slug:         body.Slug,
		DisplayName:  body.DisplayName,
		TrialEndsAt:  body.TrialEndsAt,
		PaymentDueAt: body.PaymentDueAt,
	})
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/accounts/%s", a.ID))
	httpjson.Write(w, http.StatusCreated, toAccountResponse(a))
}

// Get implements GET /admin/accounts/{accountId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, toAccountResponse(a))
}

// Provision implements POST /admin/accounts/{accountId}/provision
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var body provisionRequest
	if r.ContentLength != 0 {
		if err := httpjson.Read(w, r, &body); err != nil {
			problem.WriteError(w, r, h.logger, err)
			return
		}
	}

	input := service.ProvisionInput{}
	if body.Owner != nil {
		input.Owner = &service.Owner{
			Email:    body.Owner.Email,
			Username: body.Owner.Username,
			FullName: body.Owner.FullName,
			Password: body.Owner.Password,
		}
	}

	res, err := h.svc.Provision(r.Context(), id, input)
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	out := provisionResponse{
		Account:           toAccountResponse(res.Account),
		AppliedMigrations: res.AppliedMigrations,
	}
	if out.AppliedMigrations == nil {
		out.AppliedMigrations = []string{}
	}
	if res.Owner != nil {
		out.OwnerUserID = &res.Owner.UserID
	}
	httpjson.Write(w, http.StatusOK, out)
}

// ProvisionStatus implements GET /admin/accounts/{accountId}/provision-status
func (h *Handler) ProvisionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.ProvisionStatus(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, toProvisioningResponse(status))
}

// ChangeStatus implements PATCH /admin/accounts/{accountId}/status
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var body statusRequest
	if err := httpjson.Read(w, r, &body); err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	status, err := service.ParseStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	res, err := h.svc.ChangeStatus(r.Context(), id, service.ChangeStatusInput{Status: status, Reason: body.Reason})
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	httpjson.Write(w, http.StatusOK, statusResponse{
		ID:             res.Account.ID,
		Status:         string(res.Account.Status),
		PreviousStatus: string(res.PreviousStatus),
		EffectiveAt:    res.EffectiveAt,
		SchemaName:     res.Account.SchemaName,
		SideEffects: sideEffectsResponse{
			TenantUsersUpdated: res.SideEffects.TenantUsersUpdated,
			Action:             res.SideEffects.Action.APIAction(),
			TenantUsersCount:   res.SideEffects.TenantUsersCount,
		},
	})
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		problem.WriteError(w, r, h.logger, apperr.Wrap(apperr.ValidationFailed, "accountId must be a UUID", err))
		return uuid.Nil, false
	}
	return id, true
}

func toAccountResponse(a service.Account) accountResponse {
	out := accountResponse{
		ID:              a.ID,
		DisplayName:     a.DisplayName,
		Slug:            a.Slug,
		SchemaName:      a.SchemaName,
		ShortID:         a.ShortID,
		BasePrefix:      a.BasePrefix,
		Status:          string(a.Status),
		StatusReason:    a.StatusReason,
		StatusChangedAt: a.StatusChangedAt,
		TrialEndsAt:     a.TrialEndsAt,
		PaymentDueAt:    a.PaymentDueAt,
		IsDeleted:       a.IsDeleted,
		DeletedAt:       a.DeletedAt,
		Provisioning:    toProvisioningResponse(a.Provisioning),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.PendingCascade != "" {
		pending := string(a.PendingCascade)
		out.PendingCascade = &pending
	}
	return out
}

func toProvisioningResponse(p service.ProvisioningStatus) provisioningResponse {
	return provisioningResponse{
		DBReady:           p.DBReady,
		StorageReady:      p.StorageReady,
		LastProvisionedAt: p.LastProvisionedAt,
		LastError:         p.LastError,
	}
}
