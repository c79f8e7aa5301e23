package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/executor"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound   = apperr.New(apperr.AccountNotFound, "account not found")
	ErrConflict   = apperr.New(apperr.AccountConflict, "account slug or schema already exists")
	ErrNotEnabled = apperr.New(apperr.AccountNotEnabled, "account is not enabled")
)

// maxSchemaNameLen is the PostgreSQL identifier limit.
const maxSchemaNameLen = 63

// Account is the registry entry of a tenant.
type Account struct {
	ID              uuid.UUID
	DisplayName     string
	Slug            string
	SchemaName      string
	ShortID         string
	BasePrefix      string
	Status          Status
	StatusReason    *string
	StatusChangedAt time.Time
	TrialEndsAt     *time.Time
	PaymentDueAt    *time.Time
	IsDeleted       bool
	DeletedAt       *time.Time
	Provisioning    ProvisioningStatus
	// PendingCascade is empty once the last status change reached the tenant schema.
	PendingCascade   SideEffect
	CascadeAppliedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Space returns the routing metadata of the account.
func (a Account) Space() tenant.Space {
	return tenant.Space{
		AccountID:   a.ID,
		Slug:        a.Slug,
		DisplayName: a.DisplayName,
		ShortID:     a.ShortID,
		SchemaName:  a.SchemaName,
		BasePrefix:  a.BasePrefix,
		Status:      string(a.Status),
	}
}

// ProvisioningStatus captures environment provisioning state.
type ProvisioningStatus struct {
	DBReady           bool
	StorageReady      bool
	LastProvisionedAt *time.Time
	LastError         *string
}

// CreateInput represents the request to create an account.
type CreateInput struct {
	Slug         string
	DisplayName  string
	TrialEndsAt  *time.Time
	PaymentDueAt *time.Time
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page           int
	PageSize       int
	Status         *Status
	IncludeDeleted bool
}

// ListResult wraps paginated accounts.
type ListResult struct {
	Accounts   []Account
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// StatusUpdate is the control-plane write of a status change.
type StatusUpdate struct {
	AccountID uuid.UUID
	Status    Status
	Reason    *string
	// Pending is stored as the cascade to apply; SideEffectNone keeps the current one.
	Pending    SideEffect
	SoftDelete bool
}

// Repository abstracts persistence of the account registry.
type Repository interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id uuid.UUID) (Account, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Account, error)
	GetBySlug(ctx context.Context, slug string) (Account, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]Account, error)
	UpdateStatus(ctx context.Context, upd StatusUpdate) (Account, error)
	MarkCascadeApplied(ctx context.Context, id uuid.UUID, action SideEffect) (bool, error)
	ListPendingCascades(ctx context.Context, limit int) ([]Account, error)
	RecordProvisioning(ctx context.Context, id uuid.UUID, status ProvisioningStatus) (Account, error)
}

// TxRunner opens a control-plane transaction that repository calls made with
// the passed context join.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TenantUsers applies account-level flags to the users of the tenant schema
// bound on the context.
type TenantUsers interface {
	SuspendAllByAccount(ctx context.Context) (int64, error)
	UnsuspendAllByAccount(ctx context.Context) (int64, error)
	SoftDeleteAll(ctx context.Context) (int64, error)
}

// Directory is the control-plane login directory.
type Directory interface {
	MarkAccountDeleted(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// SpaceInvalidator drops cached routing metadata of an account.
type SpaceInvalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// Config carries the collaborators of the Service.
type Config struct {
	Repo         Repository
	Tx           TxRunner
	Tenants      *executor.TenantExecutor
	Public       *executor.PublicExecutor
	Users        TenantUsers
	Directory    Directory
	Cache        SpaceInvalidator
	Provisioning ProvisioningDeps
	EnvKey       string
	Logger       *zap.Logger
}

// Service provides account registry, status and provisioning operations.
type Service struct {
	repo      Repository
	tx        TxRunner
	tenants   *executor.TenantExecutor
	public    *executor.PublicExecutor
	users     TenantUsers
	directory Directory
	cache     SpaceInvalidator
	prov      ProvisioningDeps
	envKey    string
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a Service with required dependencies.
func New(cfg Config) *Service {
	if cfg.Repo == nil {
		panic("accounts repo is required")
	}
	if cfg.Tx == nil {
		panic("accounts tx runner is required")
	}
	if cfg.Tenants == nil || cfg.Public == nil {
		panic("accounts service requires tenant and public executors")
	}
	if cfg.Users == nil || cfg.Directory == nil {
		panic("accounts service requires cascade targets")
	}
	if strings.TrimSpace(cfg.EnvKey) == "" {
		panic("envKey is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &Service{
		repo:      cfg.Repo,
		tx:        cfg.Tx,
		tenants:   cfg.Tenants,
		public:    cfg.Public,
		users:     cfg.Users,
		directory: cfg.Directory,
		cache:     cache,
		prov:      cfg.Provisioning,
		envKey:    strings.ToLower(strings.TrimSpace(cfg.EnvKey)),
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, uuid.UUID) error { return nil }

// Create registers a new account in PROVISIONING with its derived, immutable
// schema name and storage prefix.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	slug, err := persistence.NormalizeSlug(input.Slug)
	if err != nil {
		return Account{}, apperr.Wrap(apperr.ValidationFailed, err.Error(), err)
	}
	schemaName, err := tenant.BuildSchemaName(s.envKey, slug)
	if err != nil {
		return Account{}, apperr.Wrap(apperr.ValidationFailed, "slug does not yield a valid schema name", err)
	}
	if len(schemaName) > maxSchemaNameLen {
		return Account{}, apperr.New(apperr.ValidationFailed, fmt.Sprintf("schema name %q exceeds %d characters", schemaName, maxSchemaNameLen))
	}
	if input.TrialEndsAt != nil && !input.TrialEndsAt.After(s.now()) {
		return Account{}, apperr.New(apperr.ValidationFailed, "trialEndsAt must be in the future")
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = slug
	}

	id := uuid.New()
	shortID := tenant.ShortID(id)
	a := Account{
		ID:           id,
		DisplayName:  displayName,
		Slug:         slug,
		SchemaName:   schemaName,
		ShortID:      shortID,
		BasePrefix:   tenant.BuildBasePrefix(s.envKey, slug, shortID),
		Status:       StatusProvisioning,
		TrialEndsAt:  input.TrialEndsAt,
		PaymentDueAt: input.PaymentDueAt,
	}
	return s.repo.Create(ctx, a)
}

// Get returns an account by id, cancelled accounts included.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.repo.Get(ctx, id)
}

// List accounts with optional status filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	return s.repo.List(ctx, opts)
}

// ResolveSpace returns routing metadata for an account users may sign in to.
func (s *Service) ResolveSpace(ctx context.Context, id uuid.UUID) (tenant.Space, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return tenant.Space{}, err
	}
	if a.IsDeleted || !a.Status.Enabled() {
		return tenant.Space{}, ErrNotEnabled
	}
	return a.Space(), nil
}

// EnabledSpaces returns the enabled accounts among ids. Unknown and disabled
// ids are dropped silently.
func (s *Service) EnabledSpaces(ctx context.Context, ids []uuid.UUID) ([]tenant.Space, error) {
	accounts, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	spaces := make([]tenant.Space, 0, len(accounts))
	for _, a := range accounts {
		if a.IsDeleted || !a.Status.Enabled() {
			continue
		}
		spaces = append(spaces, a.Space())
	}
	return spaces, nil
}
