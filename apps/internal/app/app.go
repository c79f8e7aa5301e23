// Package app builds the object graph shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	accountsprov "github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/provisioning"
	accountsrepo "github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/repo"
	accountsservice "github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	authservice "github.com/zenGate-Global/palmyra-tenancy/domains/auth/be/service"
	tenantusersrepo "github.com/zenGate-Global/palmyra-tenancy/domains/tenant-users/be/repo"
	tenantusersservice "github.com/zenGate-Global/palmyra-tenancy/domains/tenant-users/be/service"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/executor"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/gcp"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/storage"
)

// Config is the environment shared by every entrypoint.
type Config struct {
	DatabaseURL        string        `env:"DATABASE_URL,required"`
	ControlPlaneSchema string        `env:"CONTROL_PLANE_SCHEMA" envDefault:"tenancy_admin"`
	EnvKey             string        `env:"ENV_KEY,required"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBTenantMaxConns   int32         `env:"DB_TENANT_MAX_CONNS" envDefault:"10"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"0"`
	DBMaxConnLifetime  time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	JWTSecret          string        `env:"JWT_SECRET,required"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"palmyra-tenancy"`
	TokenTTL           time.Duration `env:"TOKEN_TTL" envDefault:"15m"`
	RefreshTTL         time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	ChallengeTTL       time.Duration `env:"CHALLENGE_TTL" envDefault:"5m"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"12"`
	StorageBackend     string        `env:"STORAGE_BACKEND" envDefault:"local"`             // gcs | local
	StorageBucket      string        `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir    string        `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local
	GCPCredentialsFile string        `env:"GCP_CREDENTIALS_FILE"`
}

// LoadEnv reads an optional dotenv file and then parses cfg from the environment.
// Variables already set in the process win over the file.
func LoadEnv(path string, cfg any) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Options carries collaborators that differ between entrypoints.
type Options struct {
	Logger *zap.Logger
	// Cache receives invalidations when an account status changes.
	Cache accountsservice.SpaceInvalidator
}

// App holds the wired services. Close releases the pools and storage clients.
type App struct {
	Config     Config
	Logger     *zap.Logger
	Pool       *pgxpool.Pool // control plane, bootstrap DDL, schema provisioner
	TenantPool *pgxpool.Pool // routed tenant runtime only

	ControlPlane *persistence.ControlPlaneDB
	TenantDB     *persistence.TenantDB
	Migrator     *persistence.SchemaProvisioner
	Tenants      *executor.TenantExecutor
	Public       *executor.PublicExecutor
	Tokens       *platformauth.TokenService
	Challenges   *persistence.ChallengeStore
	Audit        *persistence.AuditStore
	Accounts     *accountsservice.Service
	Users        *tenantusersservice.Service
	Auth         *authservice.Service

	closers []func()
}

// Open connects to PostgreSQL and builds every service.
func Open(ctx context.Context, cfg Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.EnvKey = strings.ToLower(strings.TrimSpace(cfg.EnvKey))

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		ResetSearchPath: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init control-plane pool: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Pool: pool}
	a.closers = append(a.closers, func() { persistence.ClosePool(pool) })

	// The runtimes never share pool state, so a connection routed to a
	// tenant schema is never handed to control-plane code.
	tenantPool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		MaxConns:        cfg.DBTenantMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		ResetSearchPath: true,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tenant pool: %w", err)
	}
	a.TenantPool = tenantPool
	a.closers = append(a.closers, func() { persistence.ClosePool(tenantPool) })

	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config
	logger := a.Logger

	a.ControlPlane = persistence.NewControlPlaneDB(persistence.ControlPlaneDBConfig{Pool: a.Pool, Schema: cfg.ControlPlaneSchema})
	a.TenantDB = persistence.NewTenantDB(persistence.TenantDBConfig{Pool: a.TenantPool, ControlPlaneSchema: cfg.ControlPlaneSchema})

	migrator, err := persistence.NewSchemaProvisioner(a.Pool, logger.Named("provisioner"))
	if err != nil {
		return fmt.Errorf("init schema provisioner: %w", err)
	}
	a.Migrator = migrator
	a.Tenants = executor.NewTenantExecutor(migrator, logger.Named("tenant-executor"))
	a.Public = executor.NewPublicExecutor(logger.Named("public-executor"))

	tokens, err := platformauth.NewTokenService(platformauth.TokenConfig{
		Secret:             []byte(cfg.JWTSecret),
		Issuer:             cfg.JWTIssuer,
		AccessTTL:          cfg.TokenTTL,
		RefreshTTL:         cfg.RefreshTTL,
		ControlPlaneSchema: cfg.ControlPlaneSchema,
	})
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}
	a.Tokens = tokens

	accountStore, err := persistence.NewAccountStore(a.ControlPlane)
	if err != nil {
		return fmt.Errorf("init account store: %w", err)
	}
	directory, err := persistence.NewDirectoryStore(a.ControlPlane)
	if err != nil {
		return fmt.Errorf("init directory store: %w", err)
	}
	a.Audit, err = persistence.NewAuditStore(a.ControlPlane)
	if err != nil {
		return fmt.Errorf("init audit store: %w", err)
	}
	a.Challenges, err = persistence.NewChallengeStore(a.ControlPlane)
	if err != nil {
		return fmt.Errorf("init challenge store: %w", err)
	}
	userStore, err := persistence.NewTenantUserStore(a.TenantDB)
	if err != nil {
		return fmt.Errorf("init tenant user store: %w", err)
	}

	hasher := platformauth.BcryptHasher{Cost: cfg.BcryptCost}
	userRepo := tenantusersrepo.NewPostgresRepository(userStore)

	a.Users = tenantusersservice.New(tenantusersservice.Config{
		Repo:      userRepo,
		Tx:        tenantusersrepo.NewTenantTx(a.TenantDB),
		Directory: directory,
		Audit:     a.Audit,
		Tenants:   a.Tenants,
		Public:    a.Public,
		Hasher:    hasher,
		Logger:    logger.Named("tenant-users"),
	})

	prefixes, err := a.prefixProvisioner(ctx)
	if err != nil {
		return err
	}

	a.Accounts = accountsservice.New(accountsservice.Config{
		Repo:      accountsrepo.NewPostgresRepository(accountStore),
		Tx:        accountsrepo.NewControlPlaneTx(a.ControlPlane),
		Tenants:   a.Tenants,
		Public:    a.Public,
		Users:     userStore,
		Directory: directory,
		Cache:     opts.Cache,
		Provisioning: accountsservice.ProvisioningDeps{
			DB:      accountsprov.NewDBProvisioner(migrator),
			Storage: accountsprov.NewStorageProvisioner(prefixes),
			Owner:   accountsprov.OwnerFunc(a.bootstrapOwner),
		},
		EnvKey: cfg.EnvKey,
		Logger: logger.Named("accounts"),
	})

	a.Auth = authservice.New(authservice.Config{
		Directory:    directory,
		Challenges:   a.Challenges,
		Accounts:     a.Accounts,
		Users:        userRepo,
		Tokens:       tokens,
		Hasher:       hasher,
		Tenants:      a.Tenants,
		Public:       a.Public,
		ChallengeTTL: cfg.ChallengeTTL,
		Logger:       logger.Named("auth"),
	})
	return nil
}

func (a *App) prefixProvisioner(ctx context.Context) (storage.PrefixProvisioner, error) {
	cfg := a.Config
	switch cfg.StorageBackend {
	case "gcs":
		if cfg.StorageBucket == "" {
			return nil, errors.New("storage bucket required when STORAGE_BACKEND=gcs")
		}
		client, err := gcs.NewClient(ctx, gcp.ClientOptions(cfg.GCPCredentialsFile)...)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return storage.NewGCSPrefixProvisioner(client, cfg.StorageBucket), nil
	case "local":
		if strings.TrimSpace(cfg.StorageLocalDir) == "" {
			return nil, errors.New("storage local dir required when STORAGE_BACKEND=local")
		}
		return storage.NewLocalPrefixProvisioner(cfg.StorageLocalDir), nil
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q (use gcs or local)", cfg.StorageBackend)
	}
}

func (a *App) bootstrapOwner(ctx context.Context, acc accountsservice.Account, owner accountsservice.Owner) (accountsservice.OwnerResult, error) {
	user, err := a.Users.BootstrapOwner(ctx, acc.Space(), tenantusersservice.CreateInput{
		Email:    owner.Email,
		Username: owner.Username,
		FullName: owner.FullName,
		Password: owner.Password,
	})
	if err != nil {
		return accountsservice.OwnerResult{}, err
	}
	return accountsservice.OwnerResult{UserID: user.ID}, nil
}

// BootstrapControlPlane creates the control-plane schema and its tables.
func (a *App) BootstrapControlPlane(ctx context.Context) error {
	return persistence.BootstrapControlPlane(ctx, a.Pool, a.Config.ControlPlaneSchema)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
