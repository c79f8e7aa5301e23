package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/auth/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/httpjson"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/problem"
)

// Service is the login surface the handler depends on.
type Service interface {
	LoginInit(ctx context.Context, input service.LoginInput) (service.LoginResult, error)
	LoginConfirm(ctx context.Context, input service.ConfirmInput) (service.Session, error)
	Refresh(ctx context.Context, refreshToken string) (service.Session, error)
}

// Handler serves the unauthenticated /auth routes.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("auth service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/login/confirm", h.Confirm)
	r.Post("/auth/refresh", h.Refresh)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type confirmRequest struct {
	ChallengeID string     `json:"challengeId"`
	AccountID   *uuid.UUID `json:"accountId"`
	Slug        string     `json:"slug"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	AccessToken      string    `json:"accessToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	TokenType        string    `json:"tokenType"`
	UserID           uuid.UUID `json:"userId"`
	AccountID        uuid.UUID `json:"accountId"`
	Slug             string    `json:"slug"`
	Role             string    `json:"role"`
}

type candidateResponse struct {
	AccountID   uuid.UUID `json:"accountId"`
	DisplayName string    `json:"displayName"`
	Slug        string    `json:"slug"`
}

// Login implements POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpjson.Read(w, r, &body); err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	res, err := h.svc.LoginInit(r.Context(), service.LoginInput{Email: body.Email, Password: body.Password})
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	if res.Selection != nil {
		candidates := make([]candidateResponse, 0, len(res.Selection.Candidates))
		for _, c := range res.Selection.Candidates {
			candidates = append(candidates, candidateResponse{AccountID: c.AccountID, DisplayName: c.DisplayName, Slug: c.Slug})
		}
		d := problem.FromError(apperr.New(apperr.TenantSelectionRequired, "this email belongs to several accounts; choose one"))
		d.Extensions = map[string]any{
			"challengeId": res.Selection.ChallengeID,
			"expiresAt":   res.Selection.ExpiresAt,
			"candidates":  candidates,
		}
		problem.Write(w, d)
		return
	}

	httpjson.Write(w, http.StatusOK, toSessionResponse(*res.Session))
}

// Confirm implements POST /auth/login/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if err := httpjson.Read(w, r, &body); err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}

	session, err := h.svc.LoginConfirm(r.Context(), service.ConfirmInput{
		ChallengeID: body.ChallengeID,
		AccountID:   body.AccountID,
		Slug:        body.Slug,
	})
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, toSessionResponse(session))
}

// Refresh implements POST /auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := httpjson.Read(w, r, &body); err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	if body.RefreshToken == "" {
		problem.WriteError(w, r, h.logger, apperr.New(apperr.ValidationFailed, "refreshToken is required"))
		return
	}

	session, err := h.svc.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		problem.WriteError(w, r, h.logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, toSessionResponse(session))
}

func toSessionResponse(s service.Session) sessionResponse {
	return sessionResponse{
		AccessToken:      s.AccessToken.Token,
		ExpiresAt:        s.AccessToken.ExpiresAt,
		RefreshToken:     s.RefreshToken.Token,
		RefreshExpiresAt: s.RefreshToken.ExpiresAt,
		TokenType:        "Bearer",
		UserID:           s.UserID,
		AccountID:        s.AccountID,
		Slug:             s.Slug,
		Role:             s.Role,
	}
}
