package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/problem"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Resolver returns the Space of an enabled account. Implementations fail with
// ACCOUNT_NOT_FOUND or ACCOUNT_NOT_ENABLED.
type Resolver interface {
	ResolveSpace(ctx context.Context, accountID uuid.UUID) (tenant.Space, error)
}

// Runner binds a tenant schema around fn. *executor.TenantExecutor satisfies it.
type Runner interface {
	Run(ctx context.Context, schema string, fn func(ctx context.Context) error) error
}

// Config controls middleware behavior.
type Config struct {
	EnvKey string
	// Cache is optional; nil disables caching.
	Cache  SpaceCache
	Logger *zap.Logger
}

// WithTenantSpace resolves the account of a TENANT token, attaches its Space and
// runs the rest of the chain inside a tenant binding for the token's schema.
// The binding is released when the handler returns.
func WithTenantSpace(resolver Resolver, runner Runner, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	if runner == nil {
		panic("tenant middleware: runner is required")
	}
	if cfg.EnvKey == "" {
		panic("tenant middleware: envKey is required")
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NopCache{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil || creds.Domain != platformauth.DomainTenant || creds.AccountID == nil {
				problem.Write(w, problem.New(http.StatusUnauthorized, "Unauthorized", "tenant token required", problem.TypeAuth))
				return
			}
			logger := platformlogging.FromRequest(r, cfg.Logger)

			space, err := resolve(r.Context(), resolver, cache, logger, *creds.AccountID)
			if err != nil {
				problem.WriteError(w, r, logger, err)
				return
			}

			if space.SchemaName != creds.SchemaName {
				logger.Warn("token schema does not match account",
					zap.String("account_id", space.AccountID.String()),
					zap.String("token_schema", creds.SchemaName),
				)
				problem.WriteError(w, r, logger, apperr.New(apperr.InvalidToken, "token schema does not match account"))
				return
			}

			// EnvKey alignment check: basePrefix must start with envKey + "/".
			if !strings.HasPrefix(space.BasePrefix, cfg.EnvKey+"/") {
				problem.Write(w, problem.New(http.StatusForbidden, "Forbidden", "tenant env mismatch", problem.TypeForbidden))
				return
			}

			ctx := tenant.WithSpace(r.Context(), space)
			err = runner.Run(ctx, space.SchemaName, func(ctx context.Context) error {
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			if err != nil {
				problem.WriteError(w, r, logger, err)
			}
		})
	}
}

func resolve(ctx context.Context, resolver Resolver, cache SpaceCache, logger *zap.Logger, id uuid.UUID) (tenant.Space, error) {
	space, hit, err := cache.Get(ctx, id)
	if err != nil {
		logger.Warn("space cache read failed", zap.Error(err))
	}
	if hit {
		return space, nil
	}

	space, err = resolver.ResolveSpace(ctx, id)
	if err != nil {
		return tenant.Space{}, err
	}
	if err := cache.Put(ctx, space); err != nil {
		logger.Warn("space cache write failed", zap.Error(err))
	}
	return space, nil
}
