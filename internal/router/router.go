package router

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/knowledge/api/handler"
	"github.com/fastygo/knowledge/internal/authz"
	"github.com/fastygo/knowledge/internal/metrics"
	"github.com/fastygo/knowledge/internal/middleware"
)

type Handlers struct {
	Auth       *apiHandler.AuthHandler
	Content    *apiHandler.ContentHandler
	DeadLetter *apiHandler.DeadLetterHandler
	Health     *apiHandler.HealthHandler
}

// Security configures the request gate in front of every route.
type Security struct {
	Tokens        middleware.TokenValidator
	Resolver      middleware.PrincipalResolver
	Policy        *authz.Policy
	LookupTimeout time.Duration
	CORSOrigins   string
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

func New(handlers Handlers) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	r.GET("/metrics", handlers.Health.Metrics)

	// Auth routes
	r.POST("/api/auth/login", handlers.Auth.Login)
	r.POST("/api/auth/register", handlers.Auth.Register)
	r.POST("/api/auth/refresh", handlers.Auth.Refresh)
	r.GET("/api/auth/me", handlers.Auth.Me)
	r.POST("/api/auth/logout", handlers.Auth.Logout)

	// Content routes
	r.GET("/api/articles/hot", handlers.Content.Hot)
	r.GET("/api/articles/{id}", handlers.Content.GetArticle)
	r.PUT("/api/articles/{id}", handlers.Content.UpdateArticle)
	r.POST("/api/articles/{id}/publish", handlers.Content.PublishArticle)
	r.POST("/api/articles/{id}/comments", handlers.Content.CreateComment)
	r.GET("/api/search", handlers.Content.Search)

	// Admin routes
	r.POST("/api/admin/comments/{id}/approve", handlers.Content.ApproveComment)
	r.GET("/api/admin/dead-letters", handlers.DeadLetter.List)
	r.POST("/api/admin/dead-letters/replay", handlers.DeadLetter.Replay)

	return r
}

// Handler wraps r with CORS, the fail-open authentication gate and the
// authorization policy, in that order.
func Handler(r *router.Router, sec Security) fasthttp.RequestHandler {
	policy := sec.Policy
	if policy == nil {
		policy = authz.DefaultPolicy()
	}
	return middleware.Chain(r.Handler,
		middleware.CORS(sec.CORSOrigins),
		middleware.Authenticate(sec.Tokens, sec.Resolver, sec.LookupTimeout, sec.Logger),
		middleware.Authorize(policy, sec.Metrics, sec.Logger),
	)
}
