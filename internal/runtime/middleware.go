package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/pkg/mcperr"
)

// Middleware gates tool handlers on the controller's request semaphore and
// bounds each call by OperationTimeout.
type Middleware struct {
	ctrl   *Controller
	logger zerolog.Logger
}

func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl, logger: zerolog.Nop()}
}

// WithLogger sets the logger for rejected and timed-out calls.
func (m *Middleware) WithLogger(logger zerolog.Logger) *Middleware {
	m.logger = logger
	return m
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// ToolMiddleware wraps next for server.WithToolHandlerMiddleware. Saturation
// yields BUSY_RESOURCE and an expired call yields TIMEOUT, both as tool
// results rather than protocol errors.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limits := m.ctrl.limits
		tool := req.Params.Name

		waitCtx, stopWait := withTimeout(ctx, limits.AcquireRequestTimeout)
		err := m.ctrl.AcquireRequest(waitCtx)
		stopWait()
		if err != nil {
			m.logger.Warn().Str("tool", tool).Int("max", limits.MaxConcurrentRequests).Msg("request rejected: busy")
			return mcperr.New(mcperr.BusyResource, fmt.Sprintf("concurrent request limit reached (max=%d)", limits.MaxConcurrentRequests)), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx, cancel := withTimeout(ctx, limits.OperationTimeout)
		defer cancel()

		began := time.Now()
		res, err := next(callCtx, req)
		expired := errors.Is(err, context.DeadlineExceeded) ||
			(err == nil && res == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded))
		if !expired {
			return res, err
		}
		m.logger.Warn().Str("tool", tool).Dur("elapsed", time.Since(began)).Msg("tool call timed out")
		return mcperr.New(mcperr.Timeout, ""), nil
	}
}
