package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/executor"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// DefaultChallengeTTL bounds how long a tenant selection stays open.
const DefaultChallengeTTL = 5 * time.Minute

var (
	// ErrLoginFailure is returned for every credential mismatch, whichever
	// account it concerned.
	ErrLoginFailure = apperr.New(apperr.LoginFailure, "invalid email or password")
	// ErrInvalidChallenge covers unknown, expired, consumed and pivoted challenges.
	ErrInvalidChallenge = apperr.New(apperr.InvalidChallenge, "login challenge is not valid")
)

// Directory looks up login candidates in the control plane.
type Directory interface {
	FindLoginCandidates(ctx context.Context, email string) ([]persistence.DirectoryEntry, error)
}

// Challenges stores pending tenant selections.
type Challenges interface {
	Create(ctx context.Context, rec persistence.ChallengeRecord) error
	Consume(ctx context.Context, id string, now time.Time, accept func(persistence.ChallengeRecord) error) (persistence.ChallengeRecord, error)
}

// Accounts resolves routing metadata for accounts users may sign in to.
type Accounts interface {
	ResolveSpace(ctx context.Context, id uuid.UUID) (tenant.Space, error)
	EnabledSpaces(ctx context.Context, ids []uuid.UUID) ([]tenant.Space, error)
}

// TenantUsers reads the users table of the bound tenant.
type TenantUsers interface {
	GetByEmail(ctx context.Context, email string) (persistence.TenantUserRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.TenantUserRecord, error)
}

// Tokens issues and parses domain-tagged tokens.
type Tokens interface {
	IssueTenant(subject platformauth.TokenSubject) (platformauth.IssuedToken, error)
	IssueRefresh(subject platformauth.TokenSubject) (platformauth.IssuedToken, error)
	Parse(token string, want ...platformauth.Domain) (*platformauth.Claims, error)
}

// Config wires the login service.
type Config struct {
	Directory    Directory
	Challenges   Challenges
	Accounts     Accounts
	Users        TenantUsers
	Tokens       Tokens
	Hasher       platformauth.PasswordHasher
	Tenants      *executor.TenantExecutor
	Public       *executor.PublicExecutor
	ChallengeTTL time.Duration
	Logger       *zap.Logger
}

// Service implements login-init, login-confirm and refresh.
type Service struct {
	directory    Directory
	challenges   Challenges
	accounts     Accounts
	users        TenantUsers
	tokens       Tokens
	hasher       platformauth.PasswordHasher
	tenants      *executor.TenantExecutor
	public       *executor.PublicExecutor
	challengeTTL time.Duration
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
}

func New(cfg Config) *Service {
	switch {
	case cfg.Directory == nil:
		panic("auth service requires login directory")
	case cfg.Challenges == nil:
		panic("auth service requires challenge store")
	case cfg.Accounts == nil:
		panic("auth service requires accounts")
	case cfg.Users == nil:
		panic("auth service requires tenant users")
	case cfg.Tokens == nil:
		panic("auth service requires token service")
	case cfg.Tenants == nil || cfg.Public == nil:
		panic("auth service requires both executors")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = platformauth.BcryptHasher{}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		directory:    cfg.Directory,
		challenges:   cfg.Challenges,
		accounts:     cfg.Accounts,
		users:        cfg.Users,
		tokens:       cfg.Tokens,
		hasher:       cfg.Hasher,
		tenants:      cfg.Tenants,
		public:       cfg.Public,
		challengeTTL: cfg.ChallengeTTL,
		logger:       cfg.Logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return ksuid.New().String() },
	}
}

// LoginInput is the login-init payload.
type LoginInput struct {
	Email    string
	Password string
}

// ConfirmInput picks one candidate of a challenge, by id or by slug.
type ConfirmInput struct {
	ChallengeID string
	AccountID   *uuid.UUID
	Slug        string
}

// Candidate is what the caller sees of an ambiguous match.
type Candidate struct {
	AccountID   uuid.UUID
	DisplayName string
	Slug        string
}

// Selection is returned instead of a session when several accounts matched.
type Selection struct {
	ChallengeID string
	ExpiresAt   time.Time
	Candidates  []Candidate
}

// Session is the outcome of a completed login or refresh.
type Session struct {
	AccessToken  platformauth.IssuedToken
	RefreshToken platformauth.IssuedToken
	UserID       uuid.UUID
	AccountID    uuid.UUID
	Slug         string
	Role         string
}

// LoginResult carries exactly one of Session or Selection.
type LoginResult struct {
	Session   *Session
	Selection *Selection
}

// LoginInit verifies credentials against the control-plane directory without
// binding any tenant. A single match completes the login; several matches open
// a challenge.
func (s *Service) LoginInit(ctx context.Context, input LoginInput) (LoginResult, error) {
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return LoginResult{}, apperr.New(apperr.ValidationFailed, "email and password are required")
	}
	logger := s.loggerFor(ctx)

	matches, err := executor.CallPublic(ctx, s.public, func(ctx context.Context) ([]tenant.Space, error) {
		return s.verifiedSpaces(ctx, email, input.Password)
	})
	if err != nil {
		return LoginResult{}, err
	}

	switch len(matches) {
	case 0:
		logger.Info("login rejected", zap.String("reason", "no verified candidate"))
		return LoginResult{}, ErrLoginFailure
	case 1:
		session, err := s.completeLogin(ctx, matches[0], email)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Session: &session}, nil
	}

	selection, err := s.openChallenge(ctx, email, matches)
	if err != nil {
		return LoginResult{}, err
	}
	logger.Info("tenant selection required",
		zap.String("challenge_id", selection.ChallengeID),
		zap.Int("candidates", len(selection.Candidates)),
	)
	return LoginResult{Selection: &selection}, nil
}

func (s *Service) verifiedSpaces(ctx context.Context, email, password string) ([]tenant.Space, error) {
	entries, err := s.directory.FindLoginCandidates(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find login candidates: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	hashes := make(map[uuid.UUID]string, len(entries))
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if _, seen := hashes[e.AccountID]; seen {
			continue
		}
		hashes[e.AccountID] = e.PasswordHash
		ids = append(ids, e.AccountID)
	}

	spaces, err := s.accounts.EnabledSpaces(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve candidate accounts: %w", err)
	}

	verified := make([]tenant.Space, 0, len(spaces))
	for _, space := range spaces {
		if s.hasher.Verify(hashes[space.AccountID], password) {
			verified = append(verified, space)
		}
	}
	sort.Slice(verified, func(i, j int) bool { return verified[i].Slug < verified[j].Slug })
	return verified, nil
}

func (s *Service) openChallenge(ctx context.Context, email string, spaces []tenant.Space) (Selection, error) {
	now := s.now()
	rec := persistence.ChallengeRecord{
		ChallengeID: s.newID(),
		Email:       email,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.challengeTTL),
	}
	candidates := make([]Candidate, 0, len(spaces))
	for _, space := range spaces {
		rec.CandidateAccountIDs = append(rec.CandidateAccountIDs, space.AccountID)
		candidates = append(candidates, Candidate{
			AccountID:   space.AccountID,
			DisplayName: space.DisplayName,
			Slug:        space.Slug,
		})
	}

	err := s.public.Run(ctx, func(ctx context.Context) error {
		return s.challenges.Create(ctx, rec)
	})
	if err != nil {
		return Selection{}, fmt.Errorf("create login challenge: %w", err)
	}
	return Selection{ChallengeID: rec.ChallengeID, ExpiresAt: rec.ExpiresAt, Candidates: candidates}, nil
}

// LoginConfirm consumes a challenge for one of its candidates and only then
// binds the chosen tenant.
func (s *Service) LoginConfirm(ctx context.Context, input ConfirmInput) (Session, error) {
	challengeID := strings.TrimSpace(input.ChallengeID)
	slug := strings.TrimSpace(input.Slug)
	if challengeID == "" || (input.AccountID == nil && slug == "") {
		return Session{}, apperr.New(apperr.ValidationFailed, "challengeId and one of accountId or slug are required")
	}
	logger := s.loggerFor(ctx).With(zap.String("challenge_id", challengeID))

	var chosen tenant.Space
	rec, err := executor.CallPublic(ctx, s.public, func(ctx context.Context) (persistence.ChallengeRecord, error) {
		return s.challenges.Consume(ctx, challengeID, s.now(), func(rec persistence.ChallengeRecord) error {
			space, err := s.pickCandidate(ctx, rec, input.AccountID, slug)
			if err != nil {
				return err
			}
			chosen = space
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, persistence.ErrChallengeUnavailable) {
			logger.Info("login challenge rejected")
			return Session{}, ErrInvalidChallenge
		}
		return Session{}, err
	}

	return s.completeLogin(ctx, chosen, rec.Email)
}

func (s *Service) pickCandidate(ctx context.Context, rec persistence.ChallengeRecord, accountID *uuid.UUID, slug string) (tenant.Space, error) {
	if accountID != nil && !rec.HasCandidate(*accountID) {
		return tenant.Space{}, ErrInvalidChallenge
	}
	spaces, err := s.accounts.EnabledSpaces(ctx, rec.CandidateAccountIDs)
	if err != nil {
		return tenant.Space{}, fmt.Errorf("resolve candidate accounts: %w", err)
	}
	for _, space := range spaces {
		if accountID != nil && space.AccountID == *accountID {
			return space, nil
		}
		if accountID == nil && space.Slug == slug {
			return space, nil
		}
	}
	if accountID != nil {
		return tenant.Space{}, apperr.New(apperr.AccountNotEnabled, "account is not enabled")
	}
	return tenant.Space{}, ErrInvalidChallenge
}

// completeLogin re-checks the authoritative tenant row under a single bind and
// issues the session.
func (s *Service) completeLogin(ctx context.Context, space tenant.Space, email string) (Session, error) {
	user, err := executor.Call(ctx, s.tenants, space.SchemaName, func(ctx context.Context) (persistence.TenantUserRecord, error) {
		return s.users.GetByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, persistence.ErrTenantUserNotFound) {
			return Session{}, ErrLoginFailure
		}
		return Session{}, fmt.Errorf("load tenant user: %w", err)
	}
	return s.issueSession(ctx, space, user)
}

func (s *Service) issueSession(ctx context.Context, space tenant.Space, user persistence.TenantUserRecord) (Session, error) {
	logger := s.loggerFor(ctx).With(
		zap.String("account_id", space.AccountID.String()),
		zap.String("schema", space.SchemaName),
	)
	if user.AccountID != space.AccountID {
		logger.Error("tenant user account mismatch", zap.String("user_account_id", user.AccountID.String()))
		return Session{}, ErrLoginFailure
	}
	if !user.LoginEligible() {
		logger.Info("login rejected", zap.String("reason", "user not eligible"))
		return Session{}, ErrLoginFailure
	}

	subject := platformauth.TokenSubject{
		UserID:    user.UserID,
		AccountID: space.AccountID,
		Schema:    space.SchemaName,
		Email:     user.Email,
		Role:      user.Role,
	}
	access, err := s.tokens.IssueTenant(subject)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefresh(subject)
	if err != nil {
		return Session{}, err
	}

	logger.Info("login succeeded", zap.String("user_id", user.UserID.String()))
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       user.UserID,
		AccountID:    space.AccountID,
		Slug:         space.Slug,
		Role:         user.Role,
	}, nil
}

// Refresh exchanges a REFRESH token for a new session after re-checking the
// account and the user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := s.tokens.Parse(refreshToken, platformauth.DomainRefresh)
	if err != nil {
		return Session{}, err
	}
	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return Session{}, platformauth.ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Session{}, platformauth.ErrInvalidToken
	}

	space, err := executor.CallPublic(ctx, s.public, func(ctx context.Context) (tenant.Space, error) {
		return s.accounts.ResolveSpace(ctx, accountID)
	})
	if err != nil {
		return Session{}, err
	}

	user, err := executor.Call(ctx, s.tenants, space.SchemaName, func(ctx context.Context) (persistence.TenantUserRecord, error) {
		return s.users.Get(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, persistence.ErrTenantUserNotFound) {
			return Session{}, platformauth.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("load tenant user: %w", err)
	}
	return s.issueSession(ctx, space, user)
}

func (s *Service) loggerFor(ctx context.Context) *zap.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	return s.logger
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
