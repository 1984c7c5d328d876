package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/api/transport"
	"github.com/fastygo/knowledge/internal/infrastructure/monitor"
	"github.com/fastygo/knowledge/internal/metrics"
	"github.com/fastygo/knowledge/pkg/httpcontext"
)

// BreakerReporter exposes the publish circuit state.
type BreakerReporter interface {
	BreakerState() string
}

type HealthHandler struct {
	baseHandler
	monitor *monitor.Monitor
	breaker BreakerReporter
	metrics fasthttp.RequestHandler
}

func NewHealthHandler(mon *monitor.Monitor, breaker BreakerReporter, m *metrics.Metrics, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	h := &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
		breaker:     breaker,
	}
	if m != nil {
		h.metrics = fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	}
	return h
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	breaker := "unknown"
	if h.breaker != nil {
		breaker = h.breaker.BreakerState()
	}
	payload := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"services": map[string]interface{}{
			"postgresql": status.PostgreSQL,
			"redis":      status.Redis,
			"broker": map[string]interface{}{
				"online":  status.Broker,
				"breaker": breaker,
			},
			"dead_letters": map[string]interface{}{
				"online": status.DeadLetter,
				"size":   status.DeadLetterSize,
			},
		},
		"last_check": status.LastCheck,
	}

	if status.PostgreSQL && status.Redis {
		h.respondSuccess(ctx, payload)
		return
	}
	env := transport.NewError(http.StatusServiceUnavailable, "dependencies unhealthy")
	env.Data = payload
	h.respondJSON(ctx, http.StatusServiceUnavailable, env)
}

// Metrics serves the Prometheus registry.
func (h *HealthHandler) Metrics(ctx *fasthttp.RequestCtx) {
	if h.metrics == nil {
		ctx.SetStatusCode(http.StatusNotFound)
		return
	}
	h.metrics(ctx)
}
