package middleware

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/api/transport"
	"github.com/fastygo/knowledge/internal/authz"
	"github.com/fastygo/knowledge/internal/metrics"
)

// Authorize enforces policy on the principal left by Authenticate. Anonymous
// callers on protected routes get 401; authenticated callers without the
// required role get 403.
func Authorize(policy *authz.Policy, m *metrics.Metrics, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			principal := PrincipalFrom(ctx)
			decision := policy.Decide(string(ctx.Method()), string(ctx.Path()), principal)
			m.AuthDecision(decision.String())

			switch decision {
			case authz.Allow:
				next(ctx)
			case authz.Unauthenticated:
				writeEnvelope(ctx, fasthttp.StatusUnauthorized, transport.Unauthorized())
			default:
				logger.Info("access denied",
					zap.String("username", principal.Username),
					zap.String("role", string(principal.Role)),
					zap.ByteString("method", ctx.Method()),
					zap.ByteString("path", ctx.Path()))
				writeEnvelope(ctx, fasthttp.StatusForbidden, transport.Forbidden())
			}
		}
	}
}

func writeEnvelope(ctx *fasthttp.RequestCtx, status int, env transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json;charset=UTF-8")
	ctx.SetStatusCode(status)
	ctx.SetBody(env.Bytes())
}
