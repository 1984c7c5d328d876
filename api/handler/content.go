package handler

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/api/transport"
	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/pkg/httpcontext"
	contentUC "github.com/fastygo/knowledge/usecase/content"
)

type ContentHandler struct {
	baseHandler
	uc *contentUC.UseCase
}

func NewContentHandler(uc *contentUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Hot articles
// @Tags articles
// @Router /api/articles/hot [get]
func (h *ContentHandler) Hot(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	articles, err := httpcontext.Await(stdCtx, h.uc.Hot)
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, articles)
}

// @Summary Article detail
// @Tags articles
// @Router /api/articles/{id} [get]
func (h *ContentHandler) GetArticle(ctx *fasthttp.RequestCtx) {
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	article, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.Article, error) {
		return h.uc.Get(c, principal, id, clientInfo(stdCtx))
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, article)
}

// @Summary Update an article
// @Tags articles
// @Router /api/articles/{id} [put]
func (h *ContentHandler) UpdateArticle(ctx *fasthttp.RequestCtx) {
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.ArticleUpdateRequest
	if !h.decode(ctx, &req) {
		return
	}
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	article, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.Article, error) {
		return h.uc.Update(c, principal, id, contentUC.ArticleChanges{
			Title:   req.Title,
			Summary: req.Summary,
			Content: req.Content,
		})
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, article)
}

// @Summary Publish an article
// @Tags articles
// @Router /api/articles/{id}/publish [post]
func (h *ContentHandler) PublishArticle(ctx *fasthttp.RequestCtx) {
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	article, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.Article, error) {
		return h.uc.Publish(c, principal, id)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, article)
}

// @Summary Comment on an article
// @Tags comments
// @Router /api/articles/{id}/comments [post]
func (h *ContentHandler) CreateComment(ctx *fasthttp.RequestCtx) {
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.CommentRequest
	if !h.decode(ctx, &req) {
		return
	}
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	comment, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.Comment, error) {
		return h.uc.Comment(c, principal, id, req.Content)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, comment)
}

// @Summary Approve a comment
// @Tags admin
// @Router /api/admin/comments/{id}/approve [post]
func (h *ContentHandler) ApproveComment(ctx *fasthttp.RequestCtx) {
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	comment, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.Comment, error) {
		return h.uc.Approve(c, principal, id)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, comment)
}

// @Summary Search published articles
// @Tags search
// @Router /api/search [get]
func (h *ContentHandler) Search(ctx *fasthttp.RequestCtx) {
	query := string(ctx.QueryArgs().Peek("q"))
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	articles, err := httpcontext.Await(stdCtx, func(c context.Context) ([]domain.Article, error) {
		return h.uc.Search(c, principal, query, clientInfo(stdCtx))
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, articles)
}
