// Package middleware implements the composable request pipeline of the
// gateway: recovery, audit, authentication, authorization, and the
// terminal routing layer that forwards to backends.
package middleware

import (
	"context"
	"strings"

	"mcpgate/internal/auth"
	"mcpgate/internal/registry"

	"github.com/google/uuid"
)

// MCP methods the gateway forwards. Anything else is rejected by the
// routing layer.
const (
	MethodCallTool     = "call_tool"
	MethodReadResource = "read_resource"
	MethodGetPrompt    = "get_prompt"
)

// RequestContext travels through the middleware chain. Layers fill in
// fields as the request progresses: routing records the resolved backend,
// audit records the latency, recovery records the terminal error.
type RequestContext struct {
	ID         string
	Method     string
	Capability string
	Arguments  map[string]interface{}

	// Filled by the routing layer after resolution.
	ServerName   string
	OriginalName string

	// Frozen route snapshot of the client session, when one exists. The
	// routing layer prefers it over the live registry.
	Routes *registry.Snapshot

	// Filled by the auth layer.
	Identity *auth.UserIdentity

	Err       error
	ElapsedMS int64
	Metadata  map[string]interface{}
}

// NewRequestContext creates a context with a fresh short request ID.
func NewRequestContext(method, capability string, args map[string]interface{}) *RequestContext {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return &RequestContext{
		ID:         id,
		Method:     method,
		Capability: capability,
		Arguments:  args,
		Metadata:   make(map[string]interface{}),
	}
}

// Handler processes one request. The returned value is the typed MCP
// result for the method (e.g. *mcp.CallToolResult).
type Handler func(ctx context.Context, rc *RequestContext) (interface{}, error)

// Middleware wraps a Handler. Layers may short-circuit by not calling
// next.
type Middleware func(next Handler) Handler

// Chain composes layers around a terminal handler, outside-in: the first
// layer sees the request first and the response last.
func Chain(terminal Handler, layers ...Middleware) Handler {
	handler := terminal
	for i := len(layers) - 1; i >= 0; i-- {
		handler = layers[i](handler)
	}
	return handler
}
