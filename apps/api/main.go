package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/apps/internal/app"
	"github.com/zenGate-Global/palmyra-tenancy/contracts"
	accountshandler "github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/handler"
	authhandler "github.com/zenGate-Global/palmyra-tenancy/domains/auth/be/handler"
	tenantusershandler "github.com/zenGate-Global/palmyra-tenancy/domains/tenant-users/be/handler"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/httpjson"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/palmyra-tenancy/platform/go/middleware"
	tenantmiddleware "github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant/middleware"
)

type config struct {
	app.Config

	Port              string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	AuthProvider      string        `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | dev | none
	FirebaseProjectID string        `env:"FIREBASE_PROJECT_ID"`
	RedisURL          string        `env:"REDIS_URL"` // empty keeps the account cache in process
	AccountCacheTTL   time.Duration `env:"ACCOUNT_CACHE_TTL" envDefault:"1m"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"` // 0 disables the sweep
	ReconcileBatch    int           `env:"RECONCILE_BATCH" envDefault:"50"`
	AutoBootstrap     bool          `env:"AUTO_BOOTSTRAP" envDefault:"false"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := app.LoadEnv(envFile, &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	spaceCache := buildSpaceCache(ctx, cfg, logger)

	a, err := app.Open(ctx, cfg.Config, app.Options{Logger: logger, Cache: spaceCache})
	if err != nil {
		logger.Fatal("init application", zap.Error(err))
	}
	defer a.Close()

	if cfg.AutoBootstrap {
		if err := a.BootstrapControlPlane(ctx); err != nil {
			logger.Fatal("bootstrap control plane", zap.Error(err))
		}
		logger.Info("control plane ready", zap.String("schema", cfg.ControlPlaneSchema))
	}

	doc, err := contracts.Load(ctx)
	if err != nil {
		logger.Fatal("load openapi contract", zap.Error(err))
	}
	logSecuritySchemes(logger, doc)

	authMiddleware := buildAuthMiddleware(ctx, cfg, a.Tokens, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		err := a.Pool.Ping(r.Context())
		if err == nil {
			err = a.TenantPool.Ping(r.Context())
		}
		if err != nil {
			platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
			httpjson.Write(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, doc, logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(platformmiddleware.NewSpecValidator(doc))

	authhandler.New(a.Auth, logger).Register(apiRouter)

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireDomain(platformauth.DomainControlPlane))
		r.Use(platformauth.RequireRole("admin"))
		accountshandler.New(a.Accounts, logger).Register(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireDomain(platformauth.DomainTenant))
		r.Use(platformauth.RequireTenantRole("admin"))
		r.Use(tenantmiddleware.WithTenantSpace(a.Accounts, a.Tenants, tenantmiddleware.Config{
			EnvKey: a.Config.EnvKey,
			Cache:  spaceCache,
			Logger: logger,
		}))
		tenantusershandler.New(a.Users, logger).Register(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	go runMaintenance(ctx, a, cfg.ReconcileInterval, cfg.ReconcileBatch, logger.Named("maintenance"))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildSpaceCache shares resolved accounts through Redis when REDIS_URL is set.
func buildSpaceCache(ctx context.Context, cfg config, logger *zap.Logger) tenantmiddleware.SpaceCache {
	if cfg.RedisURL == "" {
		return tenantmiddleware.NewMemoryCache(cfg.AccountCacheTTL)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("parse REDIS_URL", zap.Error(err))
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	logger.Info("account cache backed by redis", zap.String("addr", opts.Addr))
	return tenantmiddleware.NewRedisCache(client, cfg.AccountCacheTTL, "tenancy:"+cfg.EnvKey+":space:")
}
