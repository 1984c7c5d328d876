package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/domain"
)

const principalKey = "auth.principal"

// TokenValidator returns the subject of a valid access token.
type TokenValidator interface {
	Validate(raw string) (string, error)
}

// PrincipalResolver loads the principal for a token subject.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, username string) (domain.Principal, error)
}

// Authenticate is the fail-open gate: it attaches a principal when the
// request carries a valid bearer token and otherwise lets the request
// through as anonymous. It never writes a response; rejecting anonymous
// callers is the job of Authorize.
func Authenticate(tokens TokenValidator, resolver PrincipalResolver, lookupTimeout time.Duration, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 3 * time.Second
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			raw := extractToken(ctx)
			if raw == "" {
				next(ctx)
				return
			}

			subject, err := tokens.Validate(raw)
			if err != nil {
				logger.Debug("bearer token rejected, continuing anonymously",
					zap.ByteString("path", ctx.Path()),
					zap.Error(err))
				next(ctx)
				return
			}

			lookupCtx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
			principal, err := resolver.ResolvePrincipal(lookupCtx, subject)
			cancel()
			if err != nil {
				logger.Warn("principal lookup failed, continuing anonymously",
					zap.String("subject", subject),
					zap.Error(err))
				next(ctx)
				return
			}

			ctx.SetUserValue(principalKey, principal)
			next(ctx)
		}
	}
}

// PrincipalFrom returns the principal attached to the request, or the
// anonymous principal.
func PrincipalFrom(ctx *fasthttp.RequestCtx) domain.Principal {
	if ctx == nil {
		return domain.Anonymous()
	}
	if p, ok := ctx.UserValue(principalKey).(domain.Principal); ok {
		return p
	}
	return domain.Anonymous()
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
