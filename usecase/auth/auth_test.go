package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/token"
	"github.com/fastygo/knowledge/repository"
	redisrepo "github.com/fastygo/knowledge/repository/redis"
)

type memoryUsers struct {
	mu      sync.Mutex
	nextID  int64
	byName  map[string]*domain.User
	touched []int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byName: make(map[string]*domain.User)}
}

func (r *memoryUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byName {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memoryUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byName[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUsers) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[user.Username]; ok {
		return domain.ErrUsernameTaken
	}
	r.nextID++
	user.ID = r.nextID
	cp := *user
	r.byName[user.Username] = &cp
	return nil
}

func (r *memoryUsers) TouchLastLogin(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, id)
	return nil
}

func (r *memoryUsers) setEnabled(username string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[username].Enabled = enabled
}

type fixture struct {
	uc    *UseCase
	users *memoryUsers
	cache repository.CacheStore
	mr    *miniredis.Miniredis
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		users: newMemoryUsers(),
		cache: redisrepo.NewCacheStore(client, nil),
		mr:    mr,
		now:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	tokens := token.NewService(token.Config{
		Secret:        "auth-test-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    48 * time.Hour,
		RefreshWindow: 24 * time.Hour,
	}, token.WithClock(func() time.Time { return f.now }))
	f.uc = New(f.users, f.cache, tokens, nil)
	return f
}

func TestRegisterHashesPasswordAndDefaultsToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.uc.Register(ctx, "  alice ", "secret1", "alice@example.com", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.True(t, user.Enabled)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))

	_, err = f.uc.Register(ctx, "alice", "secret1", "", "")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Register(ctx, "al", "secret1", "", "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))

	_, err = f.uc.Register(ctx, "alice", "short", "", "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
}

func TestLoginIssuesTokensAndCachesUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.uc.Register(ctx, "alice", "secret1", "", "")
	require.NoError(t, err)

	session, err := f.uc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.NotEqual(t, session.AccessToken, session.RefreshToken)
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, f.now.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, []int64{user.ID}, f.users.touched)
	assert.True(t, f.mr.Exists(repository.UserKey("alice")))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.uc.Register(ctx, "alice", "secret1", "", "")
	require.NoError(t, err)

	_, err = f.uc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)

	_, err = f.uc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)

	_, err = f.uc.Login(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestLoginRejectsDisabledAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.uc.Register(ctx, "alice", "secret1", "", "")
	require.NoError(t, err)
	f.users.setEnabled("alice", false)

	_, err = f.uc.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, domain.ErrAccountDisabled)
}

func TestRefreshInsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.uc.Register(ctx, "alice", "secret1", "", "")
	require.NoError(t, err)
	session, err := f.uc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	refreshed, err := f.uc.Refresh(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, refreshed.AccessToken)
	assert.Equal(t, f.now.Add(time.Hour), refreshed.ExpiresAt)
	require.NotEmpty(t, refreshed.RefreshToken)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.uc.Refresh(ctx, session.AccessToken)
	assert.ErrorIs(t, err, domain.ErrRefreshWindowExceeded)
}

func TestRefreshTokenFromRefreshStaysUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.uc.Register(ctx, "carol", "secret1", "", "")
	require.NoError(t, err)
	session, err := f.uc.Login(ctx, "carol", "secret1")
	require.NoError(t, err)

	f.now = f.now.Add(20 * time.Hour)
	refreshed, err := f.uc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	f.now = f.now.Add(20 * time.Hour)
	_, err = f.uc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrRefreshWindowExceeded)

	again, err := f.uc.Refresh(ctx, refreshed.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, again.AccessToken)
}

func TestRefreshRejectsDisabledAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.uc.Register(ctx, "alice", "secret1", "", "")
	require.NoError(t, err)
	session, err := f.uc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	f.users.setEnabled("alice", false)
	principal := domain.Principal{Username: "alice"}
	require.NoError(t, f.uc.Logout(ctx, principal))

	_, err = f.uc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrAccountDisabled)
}

func TestResolvePrincipalReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.uc.Register(ctx, "alice", "secret1", "", "")
	require.NoError(t, err)

	principal, err := f.uc.ResolvePrincipal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.True(t, principal.Enabled)

	// A cached entry answers until it is evicted.
	f.users.setEnabled("alice", false)
	principal, err = f.uc.ResolvePrincipal(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, principal.Enabled)

	require.NoError(t, f.uc.Logout(ctx, principal))
	principal, err = f.uc.ResolvePrincipal(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, principal.Enabled)

	_, err = f.uc.ResolvePrincipal(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestMeRequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.uc.Register(ctx, "alice", "secret1", "", "Alice")
	require.NoError(t, err)

	_, err = f.uc.Me(ctx, domain.Anonymous())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	me, err := f.uc.Me(ctx, domain.Principal{Username: "alice", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "Alice", me.Nickname)
}
