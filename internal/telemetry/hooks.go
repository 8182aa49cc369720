package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Hooks implements mcp-go server lifecycle callbacks for logging and tool metrics.
type Hooks struct {
	logger  zerolog.Logger
	metrics *Metrics
	started sync.Map // request id -> time.Time
}

// NewHooks constructs a Hooks instance. metrics may be nil.
func NewHooks(logger zerolog.Logger, metrics *Metrics) *Hooks {
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Hooks{logger: logger, metrics: metrics}
}

// Server adapts the callbacks to mcp-go's hook registry.
func (h *Hooks) Server() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		h.OnSessionStart(session.SessionID())
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		h.OnSessionEnd(session.SessionID())
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		h.logger.Debug().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		h.started.Store(requestKey(id), time.Now())
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		var err error
		if res != nil && res.IsError {
			err = fmt.Errorf("tool returned error result")
		}
		h.OnToolCall(ctx, sessionID(ctx), req.Params.Name, h.elapsed(id), err)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		h.started.Delete(requestKey(id))
		h.logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}

// OnSessionStart records the start of a client session.
func (h *Hooks) OnSessionStart(sessionID string) {
	h.logger.Info().Str("session_id", sessionID).Msg("session started")
}

// OnSessionEnd records the end of a client session.
func (h *Hooks) OnSessionEnd(sessionID string) {
	h.logger.Info().Str("session_id", sessionID).Msg("session ended")
}

// OnToolCall logs tool invocations and counts them.
func (h *Hooks) OnToolCall(ctx context.Context, sessionID, toolName string, duration time.Duration, err error) {
	h.metrics.ToolCalled(ctx, toolName, err != nil)
	if err != nil {
		h.logger.Warn().Str("session_id", sessionID).Str("tool", toolName).Dur("duration", duration).Err(err).Msg("tool call error")
		return
	}
	h.logger.Info().Str("session_id", sessionID).Str("tool", toolName).Dur("duration", duration).Msg("tool call completed")
}

func (h *Hooks) elapsed(id any) time.Duration {
	v, ok := h.started.LoadAndDelete(requestKey(id))
	if !ok {
		return 0
	}
	return time.Since(v.(time.Time))
}

func requestKey(id any) string { return fmt.Sprint(id) }

func sessionID(ctx context.Context) string {
	if s := server.ClientSessionFromContext(ctx); s != nil {
		return s.SessionID()
	}
	return ""
}
