package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/executor"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

type readyAll struct{}

func (readyAll) SchemaExists(context.Context, string) (bool, error)        { return true, nil }
func (readyAll) TableExists(context.Context, string, string) (bool, error) { return true, nil }

type fakeDirectory struct {
	entries     []persistence.DirectoryEntry
	sawBinding  bool
	lookupCount int
}

func (f *fakeDirectory) FindLoginCandidates(ctx context.Context, email string) ([]persistence.DirectoryEntry, error) {
	f.lookupCount++
	if _, ok := tenant.Schema(ctx); ok {
		f.sawBinding = true
	}
	var out []persistence.DirectoryEntry
	for _, e := range f.entries {
		if e.Email == email && !e.IsDeleted && !e.SuspendedByAdmin {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeChallenges mirrors the locking semantics of ChallengeStore.Consume.
type fakeChallenges struct {
	mu   sync.Mutex
	recs map[string]persistence.ChallengeRecord
}

func (f *fakeChallenges) Create(_ context.Context, rec persistence.ChallengeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ChallengeID] = rec
	return nil
}

func (f *fakeChallenges) Consume(_ context.Context, id string, now time.Time, accept func(persistence.ChallengeRecord) error) (persistence.ChallengeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.ConsumedAt != nil || !now.Before(rec.ExpiresAt) {
		return persistence.ChallengeRecord{}, persistence.ErrChallengeUnavailable
	}
	if err := accept(rec); err != nil {
		return persistence.ChallengeRecord{}, err
	}
	rec.ConsumedAt = &now
	f.recs[id] = rec
	return rec, nil
}

type fakeAccounts struct {
	spaces  map[uuid.UUID]tenant.Space
	enabled map[uuid.UUID]bool
}

func (f *fakeAccounts) ResolveSpace(_ context.Context, id uuid.UUID) (tenant.Space, error) {
	space, ok := f.spaces[id]
	if !ok {
		return tenant.Space{}, apperr.New(apperr.AccountNotFound, "account not found")
	}
	if !f.enabled[id] {
		return tenant.Space{}, apperr.New(apperr.AccountNotEnabled, "account is not enabled")
	}
	return space, nil
}

func (f *fakeAccounts) EnabledSpaces(_ context.Context, ids []uuid.UUID) ([]tenant.Space, error) {
	var out []tenant.Space
	for _, id := range ids {
		if space, ok := f.spaces[id]; ok && f.enabled[id] {
			out = append(out, space)
		}
	}
	return out, nil
}

// fakeUsers holds tenant rows per schema and only answers when a schema is bound.
type fakeUsers struct {
	bySchema map[string][]persistence.TenantUserRecord
	binds    []string
}

func (f *fakeUsers) bound(ctx context.Context) (string, error) {
	schema, ok := tenant.Schema(ctx)
	if !ok {
		return "", persistence.ErrNoTenantBound
	}
	f.binds = append(f.binds, schema)
	return schema, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (persistence.TenantUserRecord, error) {
	schema, err := f.bound(ctx)
	if err != nil {
		return persistence.TenantUserRecord{}, err
	}
	for _, u := range f.bySchema[schema] {
		if u.Email == email && !u.IsDeleted {
			return u, nil
		}
	}
	return persistence.TenantUserRecord{}, persistence.ErrTenantUserNotFound
}

func (f *fakeUsers) Get(ctx context.Context, id uuid.UUID) (persistence.TenantUserRecord, error) {
	schema, err := f.bound(ctx)
	if err != nil {
		return persistence.TenantUserRecord{}, err
	}
	for _, u := range f.bySchema[schema] {
		if u.UserID == id && !u.IsDeleted {
			return u, nil
		}
	}
	return persistence.TenantUserRecord{}, persistence.ErrTenantUserNotFound
}

type fixture struct {
	svc        *Service
	tokens     *platformauth.TokenService
	directory  *fakeDirectory
	challenges *fakeChallenges
	accounts   *fakeAccounts
	users      *fakeUsers
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tokens, err := platformauth.NewTokenService(platformauth.TokenConfig{
		Secret:             []byte("0123456789abcdef0123456789abcdef"),
		ControlPlaneSchema: "tenancy_admin",
	})
	require.NoError(t, err)

	f := &fixture{
		tokens:     tokens,
		directory:  &fakeDirectory{},
		challenges: &fakeChallenges{recs: map[string]persistence.ChallengeRecord{}},
		accounts:   &fakeAccounts{spaces: map[uuid.UUID]tenant.Space{}, enabled: map[uuid.UUID]bool{}},
		users:      &fakeUsers{bySchema: map[string][]persistence.TenantUserRecord{}},
		clock:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = New(Config{
		Directory:  f.directory,
		Challenges: f.challenges,
		Accounts:   f.accounts,
		Users:      f.users,
		Tokens:     tokens,
		Hasher:     platformauth.BcryptHasher{Cost: bcrypt.MinCost},
		Tenants:    executor.NewTenantExecutor(readyAll{}, logger),
		Public:     executor.NewPublicExecutor(logger),
		Logger:     logger,
	})
	f.svc.now = func() time.Time { return f.clock }
	seq := 0
	f.svc.newID = func() string {
		seq++
		return fmt.Sprintf("chal-%d", seq)
	}
	return f
}

// addMember creates an enabled account whose tenant has email with password.
func (f *fixture) addMember(t *testing.T, slug, email, password string) (tenant.Space, persistence.TenantUserRecord) {
	t.Helper()
	hash, err := platformauth.BcryptHasher{Cost: bcrypt.MinCost}.Hash(password)
	require.NoError(t, err)

	space := tenant.Space{
		AccountID:   uuid.New(),
		Slug:        slug,
		DisplayName: "Account " + slug,
		SchemaName:  "dev__tenant_" + slug,
		Status:      "ACTIVE",
	}
	f.accounts.spaces[space.AccountID] = space
	f.accounts.enabled[space.AccountID] = true

	user := persistence.TenantUserRecord{
		UserID:       uuid.New(),
		AccountID:    space.AccountID,
		Email:        email,
		Role:         "admin",
		PasswordHash: hash,
	}
	f.users.bySchema[space.SchemaName] = append(f.users.bySchema[space.SchemaName], user)
	f.directory.entries = append(f.directory.entries, persistence.DirectoryEntry{
		AccountID:    space.AccountID,
		UserID:       user.UserID,
		Email:        email,
		PasswordHash: hash,
	})
	return space, user
}

func TestLoginInitSingleMatchIssuesTenantToken(t *testing.T) {
	f := newFixture(t)
	space, user := f.addMember(t, "acme", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: " A@X.com ", Password: "s3cret"})
	require.NoError(t, err)
	require.Nil(t, res.Selection)
	require.NotNil(t, res.Session)
	require.Equal(t, user.UserID, res.Session.UserID)

	claims, err := f.tokens.Parse(res.Session.AccessToken.Token, platformauth.DomainTenant)
	require.NoError(t, err)
	require.Equal(t, space.SchemaName, claims.Schema)
	require.Equal(t, space.AccountID.String(), claims.AccountID)

	_, err = f.tokens.Parse(res.Session.RefreshToken.Token, platformauth.DomainRefresh)
	require.NoError(t, err)

	require.False(t, f.directory.sawBinding)
	require.Equal(t, []string{space.SchemaName}, f.users.binds)
	require.Empty(t, f.challenges.recs)
}

func TestLoginInitWrongPasswordFailsWithoutBinding(t *testing.T) {
	f := newFixture(t)
	f.addMember(t, "acme", "a@x.com", "s3cret")
	f.addMember(t, "globex", "a@x.com", "other")

	_, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "nope"})
	require.ErrorIs(t, err, ErrLoginFailure)
	require.Empty(t, f.users.binds)

	_, err = f.svc.LoginInit(context.Background(), LoginInput{Email: "nobody@x.com", Password: "s3cret"})
	require.True(t, apperr.HasCode(err, apperr.LoginFailure))
}

func TestLoginInitIgnoresDisabledAccounts(t *testing.T) {
	f := newFixture(t)
	active, _ := f.addMember(t, "acme", "a@x.com", "s3cret")
	suspended, _ := f.addMember(t, "globex", "a@x.com", "s3cret")
	f.accounts.enabled[suspended.AccountID] = false

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	require.Equal(t, active.AccountID, res.Session.AccountID)
}

func TestAmbiguousLoginThenConfirm(t *testing.T) {
	f := newFixture(t)
	globex, _ := f.addMember(t, "globex", "a@x.com", "s3cret")
	acme, _ := f.addMember(t, "acme", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)
	require.Nil(t, res.Session)
	require.NotNil(t, res.Selection)
	require.Equal(t, []Candidate{
		{AccountID: acme.AccountID, DisplayName: acme.DisplayName, Slug: "acme"},
		{AccountID: globex.AccountID, DisplayName: globex.DisplayName, Slug: "globex"},
	}, res.Selection.Candidates)
	require.Empty(t, f.users.binds)

	session, err := f.svc.LoginConfirm(context.Background(), ConfirmInput{
		ChallengeID: res.Selection.ChallengeID,
		AccountID:   &acme.AccountID,
	})
	require.NoError(t, err)

	claims, err := f.tokens.Parse(session.AccessToken.Token, platformauth.DomainTenant)
	require.NoError(t, err)
	require.Equal(t, acme.SchemaName, claims.Schema)
	require.Equal(t, []string{acme.SchemaName}, f.users.binds)

	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{
		ChallengeID: res.Selection.ChallengeID,
		AccountID:   &acme.AccountID,
	})
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestConfirmBySlug(t *testing.T) {
	f := newFixture(t)
	f.addMember(t, "acme", "a@x.com", "s3cret")
	globex, _ := f.addMember(t, "globex", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)

	session, err := f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: res.Selection.ChallengeID, Slug: "globex"})
	require.NoError(t, err)
	require.Equal(t, globex.AccountID, session.AccountID)
}

func TestConfirmRejectsPivotAndKeepsChallenge(t *testing.T) {
	f := newFixture(t)
	acme, _ := f.addMember(t, "acme", "a@x.com", "s3cret")
	f.addMember(t, "globex", "a@x.com", "s3cret")
	outsider, _ := f.addMember(t, "initech", "b@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)

	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: res.Selection.ChallengeID, AccountID: &outsider.AccountID})
	require.ErrorIs(t, err, ErrInvalidChallenge)
	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: res.Selection.ChallengeID, Slug: "initech"})
	require.ErrorIs(t, err, ErrInvalidChallenge)
	require.Empty(t, f.users.binds)

	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: res.Selection.ChallengeID, AccountID: &acme.AccountID})
	require.NoError(t, err)
}

func TestConfirmAfterExpiry(t *testing.T) {
	f := newFixture(t)
	acme, _ := f.addMember(t, "acme", "a@x.com", "s3cret")
	f.addMember(t, "globex", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, f.clock.Add(DefaultChallengeTTL), res.Selection.ExpiresAt)

	f.clock = f.clock.Add(DefaultChallengeTTL)
	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: res.Selection.ChallengeID, AccountID: &acme.AccountID})
	require.ErrorIs(t, err, ErrInvalidChallenge)

	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: "unknown", AccountID: &acme.AccountID})
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestConfirmChecksAccountStillEnabled(t *testing.T) {
	f := newFixture(t)
	acme, _ := f.addMember(t, "acme", "a@x.com", "s3cret")
	f.addMember(t, "globex", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)

	f.accounts.enabled[acme.AccountID] = false
	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: res.Selection.ChallengeID, AccountID: &acme.AccountID})
	require.True(t, apperr.HasCode(err, apperr.AccountNotEnabled))
	require.Empty(t, f.users.binds)
}

func TestLoginRechecksTenantRow(t *testing.T) {
	f := newFixture(t)
	space, _ := f.addMember(t, "acme", "a@x.com", "s3cret")
	f.users.bySchema[space.SchemaName][0].SuspendedByAccount = true

	_, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.ErrorIs(t, err, ErrLoginFailure)
}

func TestLoginRejectsAccountMismatch(t *testing.T) {
	f := newFixture(t)
	space, _ := f.addMember(t, "acme", "a@x.com", "s3cret")
	f.users.bySchema[space.SchemaName][0].AccountID = uuid.New()

	_, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.ErrorIs(t, err, ErrLoginFailure)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com"})
	require.True(t, apperr.HasCode(err, apperr.ValidationFailed))
	_, err = f.svc.LoginConfirm(context.Background(), ConfirmInput{ChallengeID: "chal-1"})
	require.True(t, apperr.HasCode(err, apperr.ValidationFailed))
	require.Zero(t, f.directory.lookupCount)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	space, user := f.addMember(t, "acme", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)

	session, err := f.svc.Refresh(context.Background(), res.Session.RefreshToken.Token)
	require.NoError(t, err)
	require.Equal(t, user.UserID, session.UserID)
	claims, err := f.tokens.Parse(session.AccessToken.Token, platformauth.DomainTenant)
	require.NoError(t, err)
	require.Equal(t, space.SchemaName, claims.Schema)

	_, err = f.svc.Refresh(context.Background(), res.Session.AccessToken.Token)
	require.True(t, apperr.HasCode(err, apperr.InvalidToken))

	f.accounts.enabled[space.AccountID] = false
	_, err = f.svc.Refresh(context.Background(), res.Session.RefreshToken.Token)
	require.True(t, apperr.HasCode(err, apperr.AccountNotEnabled))
}

func TestRefreshRejectsDeletedUser(t *testing.T) {
	f := newFixture(t)
	space, _ := f.addMember(t, "acme", "a@x.com", "s3cret")

	res, err := f.svc.LoginInit(context.Background(), LoginInput{Email: "a@x.com", Password: "s3cret"})
	require.NoError(t, err)

	f.users.bySchema[space.SchemaName][0].IsDeleted = true
	_, err = f.svc.Refresh(context.Background(), res.Session.RefreshToken.Token)
	require.True(t, errors.Is(err, platformauth.ErrInvalidToken))
}
