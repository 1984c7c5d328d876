// Package httpcontext bridges fasthttp requests to context-aware use cases.
package httpcontext

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/knowledge/domain"
	appLogger "github.com/fastygo/knowledge/pkg/logger"
)

type key string

const (
	keyRemoteAddr key = "remote_addr"
	keyUserAgent  key = "user_agent"

	HeaderRequestID = "X-Request-ID"
)

// Adapter derives a request-scoped context bounded by the request timeout.
type Adapter struct {
	timeout time.Duration
}

func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{timeout: timeout}
}

// Timeout is the per-request budget.
func (a *Adapter) Timeout() time.Duration { return a.timeout }

// Attach creates the request context and echoes the request id header.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	stdCtx, cancel := context.WithTimeout(context.Background(), a.timeout)

	reqID := requestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	ctx.Response.Header.Set(HeaderRequestID, reqID)

	if remoteAddr := ctx.RemoteIP(); remoteAddr != nil {
		stdCtx = context.WithValue(stdCtx, keyRemoteAddr, remoteAddr.String())
	}
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, keyUserAgent, ua)
	}
	return stdCtx, cancel
}

// RemoteAddr returns the client IP stored by Attach.
func RemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(keyRemoteAddr).(string)
	return v
}

// UserAgent returns the User-Agent stored by Attach.
func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(keyUserAgent).(string)
	return v
}

// Await runs fn in its own goroutine and returns its result, or
// domain.ErrTimeout once ctx is done. fn keeps running after a timeout and
// should itself honour ctx.
func Await[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, domain.ErrTimeout
		}
		return zero, ctx.Err()
	}
}

func requestID(ctx *fasthttp.RequestCtx) string {
	if ctx == nil {
		return uuid.NewString()
	}
	if header := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderRequestID))); header != "" {
		return header
	}
	return uuid.NewString()
}
