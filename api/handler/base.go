package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/api/transport"
	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/middleware"
	"github.com/fastygo/knowledge/pkg/httpcontext"
	appLogger "github.com/fastygo/knowledge/pkg/logger"
	"github.com/fastygo/knowledge/usecase"
)

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if adapter == nil {
		adapter = httpcontext.NewAdapter(0)
	}
	return baseHandler{adapter: adapter, logger: logger}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	return h.adapter.Attach(ctx)
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(payload.Bytes())
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, data interface{}) {
	h.respondJSON(ctx, http.StatusOK, transport.NewSuccess(data))
}

func (h baseHandler) respondError(ctx *fasthttp.RequestCtx, stdCtx context.Context, err error) {
	status := mapError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		appLoggerFor(stdCtx, h.logger).Error("request failed",
			zap.String("path", string(ctx.Path())),
			zap.Error(err))
		message = "internal server error"
	}
	h.respondJSON(ctx, status, transport.NewError(status, message))
}

func (h baseHandler) decode(ctx *fasthttp.RequestCtx, dest interface{}) bool {
	if err := json.Unmarshal(ctx.PostBody(), dest); err != nil {
		h.respondJSON(ctx, http.StatusBadRequest, transport.NewError(http.StatusBadRequest, domain.ErrInvalidPayload.Message))
		return false
	}
	return true
}

// pathID parses a positive integer route parameter.
func (h baseHandler) pathID(ctx *fasthttp.RequestCtx, name string) (int64, bool) {
	raw, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.respondJSON(ctx, http.StatusBadRequest, transport.NewError(http.StatusBadRequest, "invalid "+name))
		return 0, false
	}
	return id, true
}

func principalOf(ctx *fasthttp.RequestCtx) domain.Principal {
	return middleware.PrincipalFrom(ctx)
}

func clientInfo(stdCtx context.Context) usecase.ClientInfo {
	return usecase.ClientInfo{
		IP:        httpcontext.RemoteAddr(stdCtx),
		UserAgent: httpcontext.UserAgent(stdCtx),
	}
}

func mapError(err error) int {
	var dErr *domain.Error
	if !errors.As(err, &dErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch dErr.Code {
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeInvalid:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeConflict:
		return http.StatusConflict
	case domain.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func appLoggerFor(stdCtx context.Context, base *zap.Logger) *zap.Logger {
	return appLogger.WithRequestID(stdCtx, base)
}
