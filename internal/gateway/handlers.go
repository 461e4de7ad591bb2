package gateway

import (
	"context"
	"fmt"

	"mcpgate/internal/auth"
	"mcpgate/internal/middleware"
	"mcpgate/internal/registry"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// authWithBearer is a thin indirection so the transport wiring does not
// import the auth package directly in two places.
func authWithBearer(ctx context.Context, token string) context.Context {
	return auth.WithBearerToken(ctx, token)
}

// sessionRoutes returns the frozen route snapshot of the calling client's
// session. A request whose session expired between calls gets a fresh
// session frozen on the current catalog; stdio and unknown sessions fall
// back to the live registry (nil snapshot).
func (s *Server) sessionRoutes(ctx context.Context) *registry.Snapshot {
	cs := server.ClientSessionFromContext(ctx)
	if cs == nil {
		return nil
	}
	record, ok := s.sessions.Get(cs.SessionID())
	if !ok {
		record = s.sessions.Create(cs.SessionID(), s.registry.Snapshot(), s.registry.Counts(), s.cfg.Transport)
	}
	return &record.Routes
}

// run builds the request context and executes the middleware chain.
func (s *Server) run(ctx context.Context, method, capability string, args map[string]interface{}) (interface{}, error) {
	rc := middleware.NewRequestContext(method, capability, args)
	rc.Routes = s.sessionRoutes(ctx)
	return s.handler(ctx, rc)
}

// toolHandler forwards a call for one exposed tool name through the chain.
func (s *Server) toolHandler(exposedName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := make(map[string]interface{})
		if req.Params.Arguments != nil {
			if argsMap, ok := req.Params.Arguments.(map[string]interface{}); ok {
				args = argsMap
			}
		}

		result, err := s.run(ctx, middleware.MethodCallTool, exposedName, args)
		if err != nil {
			return nil, err
		}
		toolResult, ok := result.(*mcp.CallToolResult)
		if !ok {
			return nil, fmt.Errorf("unexpected result type for tool %s", exposedName)
		}
		return toolResult, nil
	}
}

// promptHandler forwards a prompt retrieval for one exposed prompt name.
func (s *Server) promptHandler(exposedName string) func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		args := make(map[string]interface{}, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			args[k] = v
		}

		result, err := s.run(ctx, middleware.MethodGetPrompt, exposedName, args)
		if err != nil {
			return nil, err
		}
		promptResult, ok := result.(*mcp.GetPromptResult)
		if !ok {
			return nil, fmt.Errorf("unexpected result type for prompt %s", exposedName)
		}
		return promptResult, nil
	}
}

// resourceHandler forwards a read for one exposed resource URI.
func (s *Server) resourceHandler(exposedURI string) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		result, err := s.run(ctx, middleware.MethodReadResource, exposedURI, nil)
		if err != nil {
			return nil, err
		}
		readResult, ok := result.(*mcp.ReadResourceResult)
		if !ok {
			return nil, fmt.Errorf("unexpected result type for resource %s", exposedURI)
		}
		var contents []mcp.ResourceContents
		if len(readResult.Contents) > 0 {
			contents = readResult.Contents
		}
		return contents, nil
	}
}
