// Package problem renders RFC 7807 problem+json responses from apperr codes.
package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
)

const (
	TypeValidation = "https://palmyra.pro/problems/validation-error"
	TypeNotFound   = "https://palmyra.pro/problems/not-found"
	TypeConflict   = "https://palmyra.pro/problems/conflict"
	TypeAuth       = "https://palmyra.pro/problems/unauthorized"
	TypeForbidden  = "https://palmyra.pro/problems/forbidden"
	TypeInternal   = "https://palmyra.pro/problems/internal-error"
)

// Details is the problem+json body. Extensions are merged at the top level.
type Details struct {
	Type       string              `json:"type"`
	Title      string              `json:"title"`
	Status     int                 `json:"status"`
	Detail     string              `json:"detail,omitempty"`
	Code       apperr.Code         `json:"code,omitempty"`
	Errors     map[string][]string `json:"errors,omitempty"`
	Extensions map[string]any      `json:"-"`
}

func (d Details) MarshalJSON() ([]byte, error) {
	type plain Details
	raw, err := json.Marshal(plain(d))
	if err != nil || len(d.Extensions) == 0 {
		return raw, err
	}
	merged := make(map[string]any, len(d.Extensions)+6)
	for k, v := range d.Extensions {
		merged[k] = v
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	for k, v := range base {
		merged[k] = v
	}
	return json.Marshal(merged)
}

type mapping struct {
	status int
	title  string
	typ    string
}

var byCode = map[apperr.Code]mapping{
	apperr.TenantInvalid:           {http.StatusBadRequest, "Invalid tenant", TypeValidation},
	apperr.ValidationFailed:        {http.StatusBadRequest, "Validation failed", TypeValidation},
	apperr.TenantSchemaNotFound:    {http.StatusNotFound, "Tenant schema not found", TypeNotFound},
	apperr.TenantTableNotFound:     {http.StatusNotFound, "Tenant table not found", TypeNotFound},
	apperr.AccountNotFound:         {http.StatusNotFound, "Account not found", TypeNotFound},
	apperr.TenantUserNotFound:      {http.StatusNotFound, "User not found", TypeNotFound},
	apperr.InvalidChallenge:        {http.StatusUnauthorized, "Invalid challenge", TypeAuth},
	apperr.LoginFailure:            {http.StatusUnauthorized, "Login failed", TypeAuth},
	apperr.InvalidToken:            {http.StatusUnauthorized, "Invalid token", TypeAuth},
	apperr.AccountNotEnabled:       {http.StatusForbidden, "Account not enabled", TypeForbidden},
	apperr.TenantSelectionRequired: {http.StatusConflict, "Tenant selection required", TypeConflict},
	apperr.AccountConflict:         {http.StatusConflict, "Conflict", TypeConflict},
	apperr.TenantUserConflict:      {http.StatusConflict, "Conflict", TypeConflict},
	apperr.InvalidStatusTransition: {http.StatusConflict, "Invalid status transition", TypeConflict},
}

// FromError classifies err. Errors without a known code become a generic 500
// so internal messages never reach the client.
func FromError(err error) Details {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if m, ok := byCode[appErr.Code]; ok {
			return Details{Type: m.typ, Title: m.title, Status: m.status, Detail: appErr.Message, Code: appErr.Code}
		}
	}
	return Details{Type: TypeInternal, Title: "Internal error", Status: http.StatusInternalServerError, Detail: "internal error"}
}

// New builds Details for a status without an apperr code.
func New(status int, title, detail, typ string) Details {
	return Details{Type: typ, Title: title, Status: status, Detail: detail}
}

// WriteError classifies err, logs it and writes the response.
func WriteError(w http.ResponseWriter, r *http.Request, fallback *zap.Logger, err error) {
	d := FromError(err)
	logFor(r, fallback, d.Status, err)
	Write(w, d)
}

// Write renders d as application/problem+json.
func Write(w http.ResponseWriter, d Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

func logFor(r *http.Request, fallback *zap.Logger, status int, err error) {
	logger := platformlogging.FromRequest(r, fallback)
	if logger == nil {
		return
	}
	fields := []zap.Field{zap.Int("status", status), zap.Error(err)}
	if code := apperr.CodeOf(err); code != "" {
		fields = append(fields, zap.String("code", string(code)))
	}
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", fields...)
	case status == http.StatusNotFound:
		logger.Info("request failed", fields...)
	default:
		logger.Warn("request failed", fields...)
	}
}
