package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// ErrInvalidToken is returned for any token that fails signature, expiry or domain checks.
var ErrInvalidToken = apperr.New(apperr.InvalidToken, "invalid token")

// Claims are the registered claims plus the tenancy context of a token.
type Claims struct {
	Domain    Domain `json:"dom"`
	AccountID string `json:"acc,omitempty"`
	Schema    string `json:"sch,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret             []byte
	Issuer             string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ResetTTL           time.Duration
	ControlPlaneSchema string
}

// TokenSubject is the principal a tenant token is issued to.
type TokenSubject struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Schema    string
	Email     string
	Role      string
}

type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenService issues and validates HS256 tokens tagged with a Domain.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "palmyra-tenancy"
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = 30 * time.Minute
	}
	if cfg.ControlPlaneSchema == "" {
		cfg.ControlPlaneSchema = tenant.PublicSchema
	}
	return &TokenService{cfg: cfg, now: time.Now}, nil
}

func (s *TokenService) IssueTenant(subject TokenSubject) (IssuedToken, error) {
	if err := s.validateTenantSchema(subject.Schema); err != nil {
		return IssuedToken{}, err
	}
	return s.issue(DomainTenant, subject, s.cfg.AccessTTL)
}

func (s *TokenService) IssueRefresh(subject TokenSubject) (IssuedToken, error) {
	return s.issue(DomainRefresh, subject, s.cfg.RefreshTTL)
}

func (s *TokenService) IssuePasswordReset(subject TokenSubject) (IssuedToken, error) {
	return s.issue(DomainPasswordReset, subject, s.cfg.ResetTTL)
}

func (s *TokenService) issue(domain Domain, subject TokenSubject, ttl time.Duration) (IssuedToken, error) {
	now := s.now().UTC()
	expires := now.Add(ttl)
	claims := Claims{
		Domain:    domain,
		AccountID: subject.AccountID.String(),
		Email:     subject.Email,
		Role:      subject.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   subject.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	if domain == DomainTenant {
		claims.Schema = subject.Schema
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", domain, err)
	}
	return IssuedToken{Token: signed, ExpiresAt: expires}, nil
}

// Parse validates the token signature and expiry and, when want is non-empty,
// that its domain is one of want.
func (s *TokenService) Parse(token string, want ...Domain) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidToken, "invalid token", err)
	}

	if !claims.Domain.Valid() {
		return nil, apperr.New(apperr.InvalidToken, "token carries no valid domain")
	}
	if len(want) > 0 && !slices.Contains(want, claims.Domain) {
		return nil, apperr.New(apperr.InvalidToken, fmt.Sprintf("token domain %s not accepted here", claims.Domain))
	}
	if claims.Domain == DomainTenant {
		if _, err := uuid.Parse(claims.AccountID); err != nil {
			return nil, apperr.Wrap(apperr.InvalidToken, "tenant token has malformed account", err)
		}
		if err := s.validateTenantSchema(claims.Schema); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// validateTenantSchema rejects tenant contexts that resolve to the control plane.
func (s *TokenService) validateTenantSchema(schema string) error {
	if schema == s.cfg.ControlPlaneSchema {
		return apperr.New(apperr.InvalidToken, "tenant token resolves to the control-plane schema")
	}
	if err := tenant.ValidateSchemaName(schema); err != nil {
		return apperr.Wrap(apperr.InvalidToken, "tenant token carries an invalid schema", err)
	}
	return nil
}

// Verify adapts the service to the JWT middleware. Only access domains are
// accepted; refresh and reset tokens are exchanged through their own endpoints.
func (s *TokenService) Verify() VerifyFunc {
	return func(_ context.Context, token string) (map[string]interface{}, error) {
		claims, err := s.Parse(token, DomainTenant, DomainControlPlane)
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{
			"sub":        claims.Subject,
			"email":      claims.Email,
			ClaimDomain:  string(claims.Domain),
			ClaimAccount: claims.AccountID,
			ClaimRole:    claims.Role,
		}
		if claims.Schema != "" {
			out[ClaimSchema] = claims.Schema
		}
		return out, nil
	}
}
