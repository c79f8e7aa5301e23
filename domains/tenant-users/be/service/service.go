package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/executor"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

func (v *ValidationError) Unwrap() error {
	return apperr.New(apperr.ValidationFailed, "validation error")
}

// Domain sentinel errors.
var (
	ErrNotFound = apperr.New(apperr.TenantUserNotFound, "user not found")
	ErrConflict = apperr.New(apperr.TenantUserConflict, "email or username already in use")
)

// Roles a tenant user may hold.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Audit actions recorded for tenant user writes.
const (
	ActionCreated     = "tenant_user.created"
	ActionSuspended   = "tenant_user.suspended"
	ActionUnsuspended = "tenant_user.unsuspended"
	ActionDeleted     = "tenant_user.deleted"
)

// User is the domain view of a tenant user. The password hash never leaves
// the service.
type User struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	Email              string
	Username           string
	FullName           string
	Role               string
	SuspendedByAccount bool
	SuspendedByAdmin   bool
	IsDeleted          bool
	DeletedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	Page           int
	PageSize       int
	IncludeDeleted bool
}

// ListResult wraps a page of users with pagination metadata.
type ListResult struct {
	Users      []User
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// CreateInput represents the payload required to create a new user.
type CreateInput struct {
	Email    string
	Username string
	FullName string
	Role     string
	Password string
}

// Repository is the tenant users table of the bound schema.
type Repository interface {
	Create(ctx context.Context, rec persistence.TenantUserRecord) (persistence.TenantUserRecord, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.TenantUserRecord, error)
	GetByEmail(ctx context.Context, email string) (persistence.TenantUserRecord, error)
	List(ctx context.Context, params persistence.ListTenantUsersParams) ([]persistence.TenantUserRecord, int, error)
	SetSuspendedByAdmin(ctx context.Context, id uuid.UUID, suspended bool) (persistence.TenantUserRecord, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (persistence.TenantUserRecord, error)
}

// TxRunner opens a unit of work on the bound tenant schema.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Directory mirrors credentials into the control plane.
type Directory interface {
	Upsert(ctx context.Context, e persistence.DirectoryEntry) error
}

// AuditLog records tenant-side writes in the control plane.
type AuditLog interface {
	Append(ctx context.Context, ev persistence.AuditEvent) error
}

type Config struct {
	Repo      Repository
	Tx        TxRunner
	Directory Directory
	Audit     AuditLog
	Tenants   *executor.TenantExecutor
	Public    *executor.PublicExecutor
	Hasher    platformauth.PasswordHasher
	Logger    *zap.Logger
}

// Service manages users inside the tenant bound on the request context.
type Service struct {
	repo      Repository
	tx        TxRunner
	directory Directory
	audit     AuditLog
	tenants   *executor.TenantExecutor
	public    *executor.PublicExecutor
	hasher    platformauth.PasswordHasher
	logger    *zap.Logger
}

// New constructs a tenant users Service.
func New(cfg Config) *Service {
	switch {
	case cfg.Repo == nil:
		panic("tenant users repository is required")
	case cfg.Tx == nil:
		panic("tenant users tx runner is required")
	case cfg.Directory == nil:
		panic("login directory is required")
	case cfg.Audit == nil:
		panic("audit log is required")
	case cfg.Tenants == nil || cfg.Public == nil:
		panic("tenant users service requires both executors")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = platformauth.BcryptHasher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		repo:      cfg.Repo,
		tx:        cfg.Tx,
		directory: cfg.Directory,
		audit:     cfg.Audit,
		tenants:   cfg.Tenants,
		public:    cfg.Public,
		hasher:    cfg.Hasher,
		logger:    cfg.Logger,
	}
}

func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	records, total, err := s.repo.List(ctx, persistence.ListTenantUsersParams{
		IncludeDeleted: opts.IncludeDeleted,
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	})
	if err != nil {
		return ListResult{}, mapPersistenceError(err)
	}

	users := make([]User, 0, len(records))
	for _, rec := range records {
		users = append(users, mapUser(rec))
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return ListResult{Users: users, Page: page, PageSize: pageSize, TotalItems: total, TotalPages: totalPages}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (User, error) {
	if id == uuid.Nil {
		return User{}, ErrNotFound
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, mapPersistenceError(err)
	}
	return mapUser(rec), nil
}

// Create adds a user to the account resolved for the request.
func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return User{}, persistence.ErrNoTenantBound
	}
	return s.create(ctx, space.AccountID, input)
}

// BootstrapOwner creates the first admin of a freshly provisioned account.
// It binds the account schema itself and requires the users table to exist.
// Re-running it for the same email returns the existing user.
func (s *Service) BootstrapOwner(ctx context.Context, space tenant.Space, input CreateInput) (User, error) {
	input.Role = RoleAdmin
	return executor.RunStrict(ctx, s.tenants, space.SchemaName, persistence.TenantUsersTable, func(ctx context.Context) (User, error) {
		if bound, _ := tenant.Schema(ctx); bound != space.SchemaName {
			return User{}, apperr.New(apperr.TenantInvalid, fmt.Sprintf("owner bootstrap bound to %q, want %q", bound, space.SchemaName))
		}
		existing, err := s.repo.GetByEmail(ctx, input.Email)
		switch {
		case err == nil:
			return mapUser(existing), nil
		case !errors.Is(err, persistence.ErrTenantUserNotFound):
			return User{}, err
		}
		return s.create(ctx, space.AccountID, input)
	})
}

func (s *Service) create(ctx context.Context, accountID uuid.UUID, input CreateInput) (User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)
	fullName := strings.TrimSpace(input.FullName)
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = RoleMember
	}

	fieldErrors := FieldErrors{}
	if email == "" {
		fieldErrors.add("email", "email is required")
	} else if !strings.Contains(email, "@") {
		fieldErrors.add("email", "email must contain '@'")
	}
	if username == "" {
		username = email
	}
	if fullName == "" {
		fieldErrors.add("fullName", "fullName is required")
	}
	if role != RoleAdmin && role != RoleMember {
		fieldErrors.add("role", fmt.Sprintf("role must be %q or %q", RoleAdmin, RoleMember))
	}
	if input.Password == "" {
		fieldErrors.add("password", "password is required")
	}
	if len(fieldErrors) > 0 {
		return User{}, &ValidationError{Fields: fieldErrors}
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	userID := uuid.New()
	var out persistence.TenantUserRecord
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		s.recordAudit(ctx, accountID, ActionCreated, userID, map[string]any{"email": email, "role": role})

		exists, err := s.repo.ExistsByEmailOrUsername(ctx, email, username)
		if err != nil {
			return err
		}
		if exists {
			return persistence.ErrTenantUserConflict
		}

		out, err = s.repo.Create(ctx, persistence.TenantUserRecord{
			UserID:       userID,
			AccountID:    accountID,
			Email:        email,
			Username:     username,
			FullName:     fullName,
			Role:         role,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}
		s.mirror(ctx, out)
		return nil
	})
	if err != nil {
		return User{}, mapPersistenceError(err)
	}

	s.loggerFor(ctx).Info("tenant user created",
		zap.String("user_id", out.UserID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("role", role),
	)
	return mapUser(out), nil
}

// Suspend sets only the admin-owned suspension flag.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) (User, error) {
	return s.setAdminSuspension(ctx, id, true)
}

// Unsuspend clears the admin-owned flag; an account-level suspension stays.
func (s *Service) Unsuspend(ctx context.Context, id uuid.UUID) (User, error) {
	return s.setAdminSuspension(ctx, id, false)
}

func (s *Service) setAdminSuspension(ctx context.Context, id uuid.UUID, suspended bool) (User, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return User{}, persistence.ErrNoTenantBound
	}
	action := ActionUnsuspended
	if suspended {
		action = ActionSuspended
	}

	var out persistence.TenantUserRecord
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		s.recordAudit(ctx, space.AccountID, action, id, nil)
		rec, err := s.repo.SetSuspendedByAdmin(ctx, id, suspended)
		if err != nil {
			return err
		}
		out = rec
		s.mirror(ctx, rec)
		return nil
	})
	if err != nil {
		return User{}, mapPersistenceError(err)
	}
	return mapUser(out), nil
}

// Delete soft-deletes a user and drops it from the login directory.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return persistence.ErrNoTenantBound
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		s.recordAudit(ctx, space.AccountID, ActionDeleted, id, nil)
		rec, err := s.repo.SoftDelete(ctx, id)
		if err != nil {
			return err
		}
		s.mirror(ctx, rec)
		return nil
	})
	return mapPersistenceError(err)
}

// mirror schedules the directory upsert for after the tenant transaction
// commits; it runs on the control-plane runtime with no tenant bound.
func (s *Service) mirror(ctx context.Context, rec persistence.TenantUserRecord) {
	entry := persistence.DirectoryEntry{
		AccountID:        rec.AccountID,
		UserID:           rec.UserID,
		Email:            rec.Email,
		PasswordHash:     rec.PasswordHash,
		SuspendedByAdmin: rec.SuspendedByAdmin,
		IsDeleted:        rec.IsDeleted,
	}
	persistence.AfterCommit(ctx, func(ctx context.Context) error {
		return s.public.Run(ctx, func(ctx context.Context) error {
			return s.directory.Upsert(ctx, entry)
		})
	})
}

// recordAudit schedules an audit event for whichever way the open unit of
// work ends.
func (s *Service) recordAudit(ctx context.Context, accountID uuid.UUID, action string, target uuid.UUID, payload map[string]any) {
	trace := requesttrace.FromContextOrSystem(ctx)
	targetID := target.String()
	persistence.AfterCompletion(ctx, func(ctx context.Context, committed bool) error {
		return s.public.Run(ctx, func(ctx context.Context) error {
			return s.audit.Append(ctx, persistence.AuditEvent{
				AccountID: &accountID,
				Actor:     trace.Actor(),
				Action:    action,
				Target:    &targetID,
				Committed: committed,
				Payload:   payload,
				RequestID: trace.RequestIDOrNil(),
			})
		})
	})
}

func (s *Service) loggerFor(ctx context.Context) *zap.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	return s.logger
}

func mapUser(rec persistence.TenantUserRecord) User {
	return User{
		ID:                 rec.UserID,
		AccountID:          rec.AccountID,
		Email:              rec.Email,
		Username:           rec.Username,
		FullName:           rec.FullName,
		Role:               rec.Role,
		SuspendedByAccount: rec.SuspendedByAccount,
		SuspendedByAdmin:   rec.SuspendedByAdmin,
		IsDeleted:          rec.IsDeleted,
		DeletedAt:          rec.DeletedAt,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrTenantUserNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrTenantUserConflict):
		return ErrConflict
	default:
		return err
	}
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
