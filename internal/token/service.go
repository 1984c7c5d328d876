package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fastygo/knowledge/domain"
)

// Claims carries the registered claims plus the creation stamp used for the
// refresh window.
type Claims struct {
	Username string           `json:"username"`
	Created  *jwt.NumericDate `json:"created"`
	jwt.RegisteredClaims
}

// Token is a signed JWT together with the times it was stamped with.
type Token struct {
	Raw       string    `json:"token"`
	Subject   string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds the signing secret and lifetimes.
type Config struct {
	Secret        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RefreshWindow time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now for signing and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service issues and validates HS256 tokens. It keeps no per-token state.
type Service struct {
	secret        []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

func NewService(cfg Config, opts ...Option) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = cfg.RefreshTTL
	}
	s := &Service{
		secret:        []byte(cfg.Secret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		refreshWindow: cfg.RefreshWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL is the lifetime stamped on access tokens.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// Issue signs an access token for subject.
func (s *Service) Issue(subject string) (Token, error) {
	return s.sign(subject, s.accessTTL)
}

// IssueRefresh signs a refresh token for subject.
func (s *Service) IssueRefresh(subject string) (Token, error) {
	return s.sign(subject, s.refreshTTL)
}

// Validate verifies the signature and expiry and returns the subject.
func (s *Service) Validate(raw string) (string, error) {
	claims, err := s.parse(raw, s.validatingParser())
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Refresh issues a new access token for a correctly signed token whose
// creation time lies within the refresh window. Expiry is not checked.
func (s *Service) Refresh(raw string) (Token, error) {
	claims, err := s.parse(raw, jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	))
	if err != nil {
		return Token{}, err
	}
	if claims.Created == nil {
		return Token{}, domain.ErrTokenInvalid
	}
	if s.now().Sub(claims.Created.Time) >= s.refreshWindow {
		return Token{}, domain.ErrRefreshWindowExceeded
	}
	return s.Issue(claims.Subject)
}

func (s *Service) sign(subject string, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(subject) == "" {
		return Token{}, domain.ErrTokenInvalid
	}
	now := s.now()
	claims := Claims{
		Username: subject,
		Created:  jwt.NewNumericDate(now),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{
		Raw:       signed,
		Subject:   subject,
		IssuedAt:  claims.IssuedAt.Time,
		CreatedAt: claims.Created.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) validatingParser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
}

func (s *Service) parse(raw string, parser *jwt.Parser) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domain.ErrTokenInvalid
	}
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
