package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/problem"
)

// Security scheme names declared by the embedded contract.
const (
	SchemeAdmin  = "adminAuth"
	SchemeTenant = "tenantAuth"
)

// ValidateAuthenticationViaSwagger is the AuthenticationFunc for OpenAPI request validation.
// It must run after auth.JWT: a scheme is satisfied only by credentials of the matching domain.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil {
		return nil
	}
	r := input.RequestValidationInput.Request
	if r == nil {
		return fmt.Errorf("no request in validation input")
	}

	var want platformauth.Domain
	switch input.SecuritySchemeName {
	case SchemeAdmin:
		want = platformauth.DomainControlPlane
	case SchemeTenant:
		want = platformauth.DomainTenant
	default:
		return fmt.Errorf("unknown security scheme %q", input.SecuritySchemeName)
	}

	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok || creds == nil {
		return fmt.Errorf("missing or invalid Authorization header")
	}
	if creds.Domain != want {
		return fmt.Errorf("%s credentials cannot satisfy %s", creds.Domain, input.SecuritySchemeName)
	}
	if input.SecuritySchemeName == SchemeAdmin && !creds.IsAdmin {
		return fmt.Errorf("platform admin role required")
	}
	return nil
}

// NewSpecValidator builds request validation middleware for doc. Failures are
// rendered as problem+json with the status the validator chose.
func NewSpecValidator(doc *openapi3.T) func(http.Handler) http.Handler {
	return oapimiddleware.OapiRequestValidatorWithOptions(doc, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: writeValidationProblem,
	})
}

func writeValidationProblem(w http.ResponseWriter, message string, statusCode int) {
	var d problem.Details
	switch statusCode {
	case http.StatusBadRequest:
		d = problem.FromError(apperr.New(apperr.ValidationFailed, message))
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		d = problem.New(statusCode, "Unauthorized", message, problem.TypeAuth)
	case http.StatusForbidden:
		d = problem.New(statusCode, "Forbidden", message, problem.TypeForbidden)
	case http.StatusNotFound:
		d = problem.New(statusCode, "Not found", message, problem.TypeNotFound)
	default:
		d = problem.New(statusCode, http.StatusText(statusCode), message, problem.TypeValidation)
	}
	problem.Write(w, d)
}
