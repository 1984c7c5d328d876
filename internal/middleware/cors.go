package middleware

import (
	"strings"

	"github.com/valyala/fasthttp"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-Request-ID"
	corsMaxAge       = "3600"
)

// CORS answers preflight requests and decorates responses for the allowed
// origins. origins is a comma-separated list. Listed origins are echoed and
// may send credentials; "*" admits any other origin without credentials.
func CORS(origins string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	allowed := make(map[string]struct{})
	wildcard := false
	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
			continue
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			origin := string(ctx.Request.Header.Peek("Origin"))
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
					ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
					ctx.Response.Header.Set("Access-Control-Expose-Headers", "X-Request-ID")
					ctx.Response.Header.Add("Vary", "Origin")
				} else if wildcard {
					ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
					ctx.Response.Header.Set("Access-Control-Expose-Headers", "X-Request-ID")
				}
			}

			if ctx.IsOptions() && len(ctx.Request.Header.Peek("Access-Control-Request-Method")) > 0 {
				ctx.Response.Header.Set("Access-Control-Allow-Methods", corsAllowMethods)
				ctx.Response.Header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				ctx.Response.Header.Set("Access-Control-Max-Age", corsMaxAge)
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// Chain applies middlewares so the first one listed runs first.
func Chain(h fasthttp.RequestHandler, mws ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
