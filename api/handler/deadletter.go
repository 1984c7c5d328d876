package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/api/transport"
	"github.com/fastygo/knowledge/internal/services"
	"github.com/fastygo/knowledge/pkg/httpcontext"
)

type DeadLetterHandler struct {
	baseHandler
	processor *services.DeadLetterProcessor
}

func NewDeadLetterHandler(processor *services.DeadLetterProcessor, adapter *httpcontext.Adapter, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		baseHandler: newBaseHandler(adapter, logger),
		processor:   processor,
	}
}

// @Summary List parked dead letters
// @Tags admin
// @Router /api/admin/dead-letters [get]
func (h *DeadLetterHandler) List(ctx *fasthttp.RequestCtx) {
	limit, _ := strconv.Atoi(string(ctx.QueryArgs().Peek("limit")))

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	items, err := h.processor.List(limit)
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, map[string]interface{}{
		"items": items,
		"total": h.processor.Size(),
	})
}

// @Summary Republish parked dead letters
// @Tags admin
// @Router /api/admin/dead-letters/replay [post]
func (h *DeadLetterHandler) Replay(ctx *fasthttp.RequestCtx) {
	var req transport.ReplayRequest
	if len(ctx.PostBody()) > 0 && !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	result, err := h.processor.Replay(stdCtx, req.Limit)
	if errors.Is(err, services.ErrBrokerUnavailable) {
		h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError(http.StatusServiceUnavailable, err.Error()))
		return
	}
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, result)
}
