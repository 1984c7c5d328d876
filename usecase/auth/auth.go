package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/token"
	"github.com/fastygo/knowledge/repository"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
)

// TokenIssuer is the subset of the token service used for sessions.
type TokenIssuer interface {
	Issue(subject string) (token.Token, error)
	IssueRefresh(subject string) (token.Token, error)
	Refresh(raw string) (token.Token, error)
}

// Session is returned on login and refresh.
type Session struct {
	AccessToken  string       `json:"token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *domain.User `json:"user,omitempty"`
}

type UseCase struct {
	users  repository.UserRepository
	cache  repository.CacheStore
	tokens TokenIssuer
	logger *zap.Logger
}

func New(users repository.UserRepository, cache repository.CacheStore, tokens TokenIssuer, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		users:  users,
		cache:  cache,
		tokens: tokens,
		logger: logger,
	}
}

// Login checks the password and issues an access and a refresh token.
func (uc *UseCase) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.ErrInvalidPayload
	}

	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrBadCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrBadCredentials
	}
	if !user.IsActive() {
		return nil, domain.ErrAccountDisabled
	}

	access, err := uc.tokens.Issue(user.Username)
	if err != nil {
		return nil, err
	}
	refresh, err := uc.tokens.IssueRefresh(user.Username)
	if err != nil {
		return nil, err
	}

	if err := uc.users.TouchLastLogin(ctx, user.ID); err != nil {
		uc.logger.Warn("failed to record last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	uc.cacheUser(ctx, user)

	return &Session{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		TokenType:    "Bearer",
		ExpiresAt:    access.ExpiresAt,
		User:         user,
	}, nil
}

// Register creates an enabled account with the USER role.
func (uc *UseCase) Register(ctx context.Context, username, password, email, nickname string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "username must be 3-32 characters", nil)
	}
	if len(password) < minPasswordLen {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "password must be at least 6 characters", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:     username,
		PasswordHash: string(hash),
		Email:        strings.TrimSpace(email),
		Nickname:     strings.TrimSpace(nickname),
		Role:         domain.RoleUser,
		Enabled:      true,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return nil, err
	}
	uc.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Refresh exchanges a token inside the refresh window for a new access
// token and a new refresh token. Disabled accounts cannot refresh.
func (uc *UseCase) Refresh(ctx context.Context, raw string) (*Session, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domain.ErrInvalidPayload
	}
	access, err := uc.tokens.Refresh(raw)
	if err != nil {
		return nil, err
	}
	principal, err := uc.ResolvePrincipal(ctx, access.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, err
	}
	if !principal.Enabled {
		return nil, domain.ErrAccountDisabled
	}
	refresh, err := uc.tokens.IssueRefresh(access.Subject)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &Session{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		TokenType:    "Bearer",
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// Me returns the account behind an authenticated principal.
func (uc *UseCase) Me(ctx context.Context, principal domain.Principal) (*domain.User, error) {
	if !principal.IsAuthenticated() {
		return nil, domain.ErrUnauthorized
	}
	return uc.loadUser(ctx, principal.Username)
}

// Logout drops the cached account. Tokens are stateless and stay valid
// until they expire.
func (uc *UseCase) Logout(ctx context.Context, principal domain.Principal) error {
	if !principal.IsAuthenticated() {
		return nil
	}
	return uc.cache.Evict(ctx, repository.UserKey(principal.Username))
}

// ResolvePrincipal loads the principal for a token subject through the user
// cache.
func (uc *UseCase) ResolvePrincipal(ctx context.Context, username string) (domain.Principal, error) {
	user, err := uc.loadUser(ctx, username)
	if err != nil {
		return domain.Anonymous(), err
	}
	return user.Principal(), nil
}

func (uc *UseCase) loadUser(ctx context.Context, username string) (*domain.User, error) {
	key := repository.UserKey(username)
	var cached domain.User
	switch err := uc.cache.Get(ctx, key, &cached); {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, domain.ErrCacheMiss):
		uc.logger.Warn("user cache read failed", zap.String("key", key), zap.Error(err))
	}

	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	uc.cacheUser(ctx, user)
	return user, nil
}

func (uc *UseCase) cacheUser(ctx context.Context, user *domain.User) {
	if err := uc.cache.Set(ctx, repository.RegionUser, repository.UserKey(user.Username), user); err != nil {
		uc.logger.Warn("user cache write failed", zap.String("username", user.Username), zap.Error(err))
	}
}
