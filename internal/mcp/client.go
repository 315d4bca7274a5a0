package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/auroraops/aurora/internal/observability"
)

// Client drives one MCP server. MCP stdio is sequential, so every request
// goes through the client's mutex.
type Client struct {
	config    *ServerConfig
	transport *stdioTransport
	logger    *observability.Logger

	mu sync.Mutex
}

// NewClient creates a client for the given server. Connect must be called
// before use.
func NewClient(cfg *ServerConfig, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Client{
		config:    cfg,
		transport: newStdioTransport(cfg, logger),
		logger:    logger,
	}
}

// Connect starts the server process and performs the initialize →
// notifications/initialized handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "aurora",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("mcp: initialize %s: %w", c.config.ID, err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.transport.Close()
		return fmt.Errorf("mcp: parse initialize result: %w", err)
	}
	c.logger.Info(ctx, "MCP server initialised",
		"server_id", c.config.ID, "server_name", init.ServerInfo.Name,
		"protocol", init.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn(ctx, "initialized notification failed",
			"server_id", c.config.ID, "error", err)
	}
	return nil
}

// Close stops the server process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.Close()
}

// Connected reports whether the server process is alive.
func (c *Client) Connected() bool { return c.transport.Connected() }

// ListTools fetches the server's tool list.
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools on %s: %w", c.config.ID, err)
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("mcp: parse tool list: %w", err)
	}
	return resp.Tools, nil
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.transport.Call(ctx, "tools/call", callToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("mcp: parse tool result: %w", err)
	}
	return &callResult, nil
}
