// Package gateway implements the client-facing MCP server: it publishes
// the aggregated catalog over the configured transport and funnels every
// incoming request through the middleware chain to the owning backend.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"mcpgate/internal/backend"
	"mcpgate/internal/config"
	"mcpgate/internal/middleware"
	"mcpgate/internal/registry"
	"mcpgate/internal/session"
	"mcpgate/pkg/logging"

	"github.com/mark3labs/mcp-go/server"
)

// serverName and serverVersion identify the gateway to connecting clients.
const (
	serverName    = "mcpgate"
	serverVersion = "1.0.0"
)

// shutdownTimeout bounds transport shutdown during Stop.
const shutdownTimeout = 5 * time.Second

// Server exposes the aggregated catalog as one MCP server.
type Server struct {
	cfg      config.ServerConfig
	manager  *backend.Manager
	registry *registry.Registry
	sessions *session.Manager
	handler  middleware.Handler

	server               *server.MCPServer
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	stdioServer          *server.StdioServer

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex

	// published tracks which exposed names are currently registered on the
	// MCP server, per kind, so catalog updates can diff instead of rebuild.
	published map[registry.Kind]map[string]bool
}

// NewServer creates the gateway front end. Start must be called before it
// serves anything.
func NewServer(cfg config.ServerConfig, manager *backend.Manager, reg *registry.Registry, sessions *session.Manager, handler middleware.Handler) *Server {
	return &Server{
		cfg:      cfg,
		manager:  manager,
		registry: reg,
		sessions: sessions,
		handler:  handler,
		published: map[registry.Kind]map[string]bool{
			registry.KindTool:     {},
			registry.KindResource: {},
			registry.KindPrompt:   {},
		},
	}
}

// Start publishes the current catalog and begins serving on the configured
// transport. It returns once the transport is listening (or immediately for
// stdio, which serves until context cancellation).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("gateway server already started")
	}

	s.ctx, s.cancelFunc = context.WithCancel(ctx)

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, cs server.ClientSession) {
		s.sessions.Create(cs.SessionID(), s.registry.Snapshot(), s.registry.Counts(), s.cfg.Transport)
	})

	s.server = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithHooks(hooks),
	)

	s.wg.Add(1)
	go s.monitorRegistryUpdates()

	s.mu.Unlock()

	s.publishCapabilities()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	switch s.cfg.Transport {
	case config.TransportSSE:
		logging.Info("Gateway", "Starting MCP gateway with SSE transport on %s", addr)
		baseURL := fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
		s.sseServer = server.NewSSEServer(
			s.server,
			server.WithBaseURL(baseURL),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
			server.WithKeepAlive(true),
			server.WithKeepAliveInterval(30*time.Second),
			server.WithSSEContextFunc(bearerFromRequest),
		)
		sseServer := s.sseServer
		go func() {
			if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Gateway", err, "SSE server error")
			}
		}()

	case config.TransportStdio:
		logging.Info("Gateway", "Starting MCP gateway with stdio transport")
		s.stdioServer = server.NewStdioServer(s.server)
		stdioServer := s.stdioServer
		stdioCtx := s.ctx
		go func() {
			if err := stdioServer.Listen(stdioCtx, os.Stdin, os.Stdout); err != nil {
				logging.Error("Gateway", err, "Stdio server error")
			}
		}()

	case config.TransportStreamableHTTP:
		fallthrough
	default:
		logging.Info("Gateway", "Starting MCP gateway with streamable-http transport on %s", addr)
		s.streamableHTTPServer = server.NewStreamableHTTPServer(
			s.server,
			server.WithHTTPContextFunc(bearerFromRequest),
		)
		streamableServer := s.streamableHTTPServer
		go func() {
			if err := streamableServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Gateway", err, "Streamable HTTP server error")
			}
		}()
	}

	return nil
}

// Stop shuts the transport down and waits for background routines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.server == nil {
		s.mu.Unlock()
		return fmt.Errorf("gateway server not started")
	}

	logging.Info("Gateway", "Stopping MCP gateway")

	cancelFunc := s.cancelFunc
	sseServer := s.sseServer
	streamableServer := s.streamableHTTPServer
	s.mu.Unlock()

	if cancelFunc != nil {
		cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if sseServer != nil {
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Gateway", err, "Error shutting down SSE server")
		}
	}
	if streamableServer != nil {
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Gateway", err, "Error shutting down streamable HTTP server")
		}
	}
	// The stdio server stops on context cancellation.

	s.wg.Wait()

	s.mu.Lock()
	s.server = nil
	s.sseServer = nil
	s.streamableHTTPServer = nil
	s.stdioServer = nil
	s.mu.Unlock()

	return nil
}

// Endpoint returns the client-facing endpoint URL for the configured
// transport.
func (s *Server) Endpoint() string {
	switch s.cfg.Transport {
	case config.TransportSSE:
		return fmt.Sprintf("http://%s:%d/sse", s.cfg.Host, s.cfg.Port)
	case config.TransportStdio:
		return "stdio"
	default:
		return fmt.Sprintf("http://%s:%d/mcp", s.cfg.Host, s.cfg.Port)
	}
}

// monitorRegistryUpdates re-publishes the catalog after every completed
// discovery.
func (s *Server) monitorRegistryUpdates() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.registry.Updates():
			s.publishCapabilities()
		}
	}
}

// publishCapabilities diffs the registry's visible catalog against what is
// currently registered on the MCP server, removing stale entries and adding
// new ones in batches. Connected clients get listChanged notifications from
// the underlying server.
func (s *Server) publishCapabilities() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return
	}

	tools := s.registry.Tools()
	resources := s.registry.Resources()
	prompts := s.registry.Prompts()

	currentTools := make(map[string]bool, len(tools))
	for _, tool := range tools {
		currentTools[tool.Name] = true
	}
	currentResources := make(map[string]bool, len(resources))
	for _, resource := range resources {
		currentResources[resource.URI] = true
	}
	currentPrompts := make(map[string]bool, len(prompts))
	for _, prompt := range prompts {
		currentPrompts[prompt.Name] = true
	}

	// Remove obsolete entries first.
	if removed := stalePublished(s.published[registry.KindTool], currentTools); len(removed) > 0 {
		logging.Debug("Gateway", "Removing %d tools: %v", len(removed), removed)
		s.server.DeleteTools(removed...)
	}
	if removed := stalePublished(s.published[registry.KindPrompt], currentPrompts); len(removed) > 0 {
		logging.Debug("Gateway", "Removing %d prompts: %v", len(removed), removed)
		s.server.DeletePrompts(removed...)
	}
	if removed := stalePublished(s.published[registry.KindResource], currentResources); len(removed) > 0 {
		logging.Debug("Gateway", "Removing %d resources: %v", len(removed), removed)
		// No batch removal for resources in the server API; remove one by one.
		for _, uri := range removed {
			s.server.RemoveResource(uri)
		}
	}

	// Add entries that are not published yet.
	var toolsToAdd []server.ServerTool
	for _, tool := range tools {
		if !s.published[registry.KindTool][tool.Name] {
			toolsToAdd = append(toolsToAdd, server.ServerTool{
				Tool:    tool,
				Handler: s.toolHandler(tool.Name),
			})
		}
	}
	var promptsToAdd []server.ServerPrompt
	for _, prompt := range prompts {
		if !s.published[registry.KindPrompt][prompt.Name] {
			promptsToAdd = append(promptsToAdd, server.ServerPrompt{
				Prompt:  prompt,
				Handler: s.promptHandler(prompt.Name),
			})
		}
	}
	var resourcesToAdd []server.ServerResource
	for _, resource := range resources {
		if !s.published[registry.KindResource][resource.URI] {
			resourcesToAdd = append(resourcesToAdd, server.ServerResource{
				Resource: resource,
				Handler:  s.resourceHandler(resource.URI),
			})
		}
	}

	if len(toolsToAdd) > 0 {
		s.server.AddTools(toolsToAdd...)
	}
	if len(promptsToAdd) > 0 {
		s.server.AddPrompts(promptsToAdd...)
	}
	if len(resourcesToAdd) > 0 {
		s.server.AddResources(resourcesToAdd...)
	}

	s.published[registry.KindTool] = currentTools
	s.published[registry.KindResource] = currentResources
	s.published[registry.KindPrompt] = currentPrompts

	logging.Debug("Gateway", "Published capabilities: %d tools, %d resources, %d prompts",
		len(tools), len(resources), len(prompts))
}

// stalePublished returns published names absent from the current set.
func stalePublished(published, current map[string]bool) []string {
	var stale []string
	for name := range published {
		if !current[name] {
			stale = append(stale, name)
		}
	}
	return stale
}

// bearerFromRequest lifts the Authorization bearer token off the HTTP
// request into the context for the auth middleware. Used by both the SSE
// and streamable HTTP transports.
func bearerFromRequest(ctx context.Context, r *http.Request) context.Context {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ctx
	}
	token := header
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		token = strings.TrimSpace(header[len("bearer "):])
	}
	return authWithBearer(ctx, token)
}
