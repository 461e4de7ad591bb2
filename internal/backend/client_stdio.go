package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"mcpgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// StdioClient implements the MCPClient interface using stdio transport.
// It manages a local subprocess whose stdin/stdout carry the MCP framing;
// the subprocess stderr is streamed line-by-line into the gateway log.
type StdioClient struct {
	baseClient
	name    string
	command string
	args    []string
	env     map[string]string

	loggerWG sync.WaitGroup
}

// NewStdioClient creates a new stdio-based MCP client. The env map is
// merged into the child's environment by the transport.
func NewStdioClient(name, command string, args []string, env map[string]string) *StdioClient {
	return &StdioClient{
		name:    name,
		command: command,
		args:    args,
		env:     env,
	}
}

// Initialize spawns the subprocess and performs the protocol handshake.
// The caller supplies the init deadline via ctx.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StdioClient", "Spawning %s %v for backend %s", c.command, c.args, c.name)

	envStrings := make([]string, 0, len(c.env))
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	// NewStdioMCPClient starts the process immediately.
	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, initRequest())
	if err != nil {
		logging.Error("StdioClient", err, "Failed to initialize MCP protocol for backend %s", c.name)
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.name, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	c.startStderrLogger(mcpClient)

	logging.Debug("StdioClient", "Backend %s initialized. Server: %s, Version: %s",
		c.name, initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// startStderrLogger streams the subprocess stderr into the log until the
// stream reaches EOF (process exit). Caller holds the write lock.
func (c *StdioClient) startStderrLogger(mcpClient *client.Client) {
	stderr, ok := client.GetStderr(mcpClient)
	if !ok || stderr == nil {
		return
	}

	c.loggerWG.Add(1)
	go func() {
		defer c.loggerWG.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logging.Info("BackendStderr", "[%s] %s", c.name, scanner.Text())
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			logging.Debug("StdioClient", "Stderr stream for %s ended: %v", c.name, err)
		}
	}()
}

// Close terminates the subprocess and joins the stderr logger. The
// transport sends SIGTERM, waits, and escalates to SIGKILL; the logger
// goroutine exits on the resulting EOF.
func (c *StdioClient) Close() error {
	err := c.closeClient()
	c.loggerWG.Wait()
	return err
}

// ListTools returns all available tools from the server
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// ListResources returns all available resources from the server
func (c *StdioClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return c.listResources(ctx)
}

// ReadResource retrieves a specific resource
func (c *StdioClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.readResource(ctx, uri)
}

// ListPrompts returns all available prompts from the server
func (c *StdioClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return c.listPrompts(ctx)
}

// GetPrompt retrieves a specific prompt
func (c *StdioClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return c.getPrompt(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
