package backend

import (
	"context"
	"fmt"
	"time"

	"mcpgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// SSEClient implements the MCPClient interface using SSE transport. A
// backend may declare a local-launch command; in that case the helper
// process is started first and given sseStartup to bring the URL up.
type SSEClient struct {
	baseClient
	name       string
	url        string
	headers    map[string]string
	helper     *launcher // nil when no local-launch command is configured
	sseStartup time.Duration
}

// NewSSEClient creates a new SSE-based MCP client.
func NewSSEClient(name, url string, headers map[string]string) *SSEClient {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &SSEClient{
		name:    name,
		url:     url,
		headers: headers,
	}
}

// WithLocalLaunch configures a helper process started before the SSE
// connection is opened. startup is the wait between helper start and the
// first connection attempt.
func (c *SSEClient) WithLocalLaunch(command string, args []string, env map[string]string, startup time.Duration) *SSEClient {
	c.helper = newLauncher(c.name, command, args, env)
	c.sseStartup = startup
	return c
}

// Initialize starts the optional helper, opens the SSE stream, and
// performs the protocol handshake.
func (c *SSEClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if c.helper != nil {
		if err := c.helper.Start(); err != nil {
			return fmt.Errorf("failed to start local helper: %w", err)
		}
		logging.Debug("SSEClient", "Waiting %s for helper of backend %s to come up", c.sseStartup, c.name)
		select {
		case <-time.After(c.sseStartup):
		case <-ctx.Done():
			_ = c.helper.Stop()
			return ctx.Err()
		}
	}

	logging.Debug("SSEClient", "Creating SSE client for backend %s at %s", c.name, c.url)

	var opts []transport.ClientOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHeaders(c.headers))
	}

	mcpClient, err := client.NewSSEMCPClient(c.url, opts...)
	if err != nil {
		c.stopHelper()
		return fmt.Errorf("failed to create SSE client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		c.stopHelper()
		return fmt.Errorf("failed to start SSE transport: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, initRequest())
	if err != nil {
		mcpClient.Close()
		c.stopHelper()
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("SSEClient", "Backend %s initialized. Server: %s, Version: %s",
		c.name, initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

func (c *SSEClient) stopHelper() {
	if c.helper == nil {
		return
	}
	if err := c.helper.Stop(); err != nil {
		logging.Debug("SSEClient", "Error stopping helper for %s: %v", c.name, err)
	}
}

// Close shuts down the SSE stream, then the helper process if one was
// launched.
func (c *SSEClient) Close() error {
	err := c.closeClient()
	c.stopHelper()
	return err
}

// ListTools returns all available tools from the server
func (c *SSEClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *SSEClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// ListResources returns all available resources from the server
func (c *SSEClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return c.listResources(ctx)
}

// ReadResource retrieves a specific resource
func (c *SSEClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.readResource(ctx, uri)
}

// ListPrompts returns all available prompts from the server
func (c *SSEClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return c.listPrompts(ctx)
}

// GetPrompt retrieves a specific prompt
func (c *SSEClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return c.getPrompt(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *SSEClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
