package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenant-users/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/httpjson"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/problem"
)

// Service is the tenant user surface the handler depends on.
type Service interface {
	Create(ctx context.Context, input service.CreateInput) (service.User, error)
	List(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (service.User, error)
	Suspend(ctx context.Context, id uuid.UUID) (service.User, error)
	Unsuspend(ctx context.Context, id uuid.UUID) (service.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handler serves /tenant/users. Requests arrive with the tenant already bound.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenant users service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/tenant/users", h.List)
	r.Post("/tenant/users", h.Create)
	r.Get("/tenant/users/{userId}", h.Get)
	r.Post("/tenant/users/{userId}/suspend", h.Suspend)
	r.Post("/tenant/users/{userId}/unsuspend", h.Unsuspend)
	r.Delete("/tenant/users/{userId}", h.Delete)
}

type userResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	Username           string     `json:"username"`
	FullName           string     `json:"fullName"`
	Role               string     `json:"role"`
	SuspendedByAccount bool       `json:"suspendedByAccount"`
	SuspendedByAdmin   bool       `json:"suspendedByAdmin"`
	IsDeleted          bool       `json:"isDeleted"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type listResponse struct {
	Items      []userResponse `json:"items"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalItems int            `json:"totalItems"`
	TotalPages int            `json:"totalPages"`
}

type createRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.List(r.Context(), service.ListOptions{
		Page:           httpjson.QueryInt(r, "page", 1),
		PageSize:       httpjson.QueryInt(r, "pageSize", 20),
		IncludeDeleted: httpjson.QueryBool(r, "includeDeleted"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]userResponse, 0, len(result.Users))
	for _, u := range result.Users {
		items = append(items, toUserResponse(u))
	}
	httpjson.Write(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpjson.Read(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.svc.Create(r.Context(), service.CreateInput{
		Email:    body.Email,
		Username: body.Username,
		FullName: body.FullName,
		Role:     body.Role,
		Password: body.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/tenant/users/%s", user.ID))
	httpjson.Write(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, h.svc.Get)
}

func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, h.svc.Suspend)
}

func (h *Handler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, h.svc.Unsuspend)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) withUser(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (service.User, error)) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, err := op(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.ValidationFailed, "userId must be a UUID", err))
		return uuid.Nil, false
	}
	return id, true
}

// writeError adds per-field messages for validation failures.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	d := problem.FromError(err)
	d.Detail = "request payload failed validation"
	d.Errors = verr.Fields
	problem.Write(w, d)
}

func toUserResponse(u service.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Username:           u.Username,
		FullName:           u.FullName,
		Role:               u.Role,
		SuspendedByAccount: u.SuspendedByAccount,
		SuspendedByAdmin:   u.SuspendedByAdmin,
		IsDeleted:          u.IsDeleted,
		DeletedAt:          u.DeletedAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}
