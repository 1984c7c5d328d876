package handler

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/api/transport"
	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/pkg/httpcontext"
	authUC "github.com/fastygo/knowledge/usecase/auth"
)

type AuthHandler struct {
	baseHandler
	uc *authUC.UseCase
}

func NewAuthHandler(uc *authUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Log in with username and password
// @Tags auth
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(ctx *fasthttp.RequestCtx) {
	var req transport.LoginRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	session, err := httpcontext.Await(stdCtx, func(c context.Context) (*authUC.Session, error) {
		return h.uc.Login(c, req.Username, req.Password)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, session)
}

// @Summary Register a new account
// @Tags auth
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(ctx *fasthttp.RequestCtx) {
	var req transport.RegisterRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	user, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.User, error) {
		return h.uc.Register(c, req.Username, req.Password, req.Email, req.Nickname)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, user)
}

// @Summary Exchange a token for a fresh access token
// @Tags auth
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(ctx *fasthttp.RequestCtx) {
	var req transport.RefreshRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	session, err := httpcontext.Await(stdCtx, func(c context.Context) (*authUC.Session, error) {
		return h.uc.Refresh(c, req.Token)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, session)
}

// @Summary Current account
// @Tags auth
// @Router /api/auth/me [get]
func (h *AuthHandler) Me(ctx *fasthttp.RequestCtx) {
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	user, err := httpcontext.Await(stdCtx, func(c context.Context) (*domain.User, error) {
		return h.uc.Me(c, principal)
	})
	if err != nil {
		h.respondError(ctx, stdCtx, err)
		return
	}
	h.respondSuccess(ctx, user)
}

// @Summary Log out
// @Tags auth
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(ctx *fasthttp.RequestCtx) {
	principal := principalOf(ctx)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.Logout(stdCtx, principal); err != nil {
		appLoggerFor(stdCtx, h.logger).Warn("logout cache eviction failed", zap.Error(err))
	}
	h.respondSuccess(ctx, nil)
}
