// Package mcp launches external Model Context Protocol servers over stdio and
// surfaces their tools to the agent. Servers start lazily per (user, server),
// requests are serialised per server, and discovered tool lists are cached
// per user with credential-change invalidation.
package mcp

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	protocolVersion = "2024-11-05"

	defaultCallTimeout = 30 * time.Second
	// dockerCallTimeout covers image pull and container start on first use.
	dockerCallTimeout = 120 * time.Second
)

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	ID      string
	Command string
	Args    []string
	// Env is the full subprocess environment beyond PATH/HOME. Credential
	// variables land here per user; the process environment is never
	// mutated.
	Env map[string]string
	// Docker marks container-backed servers, which get a longer timeout.
	Docker bool
}

// Validate rejects configurations that cannot start.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("mcp: server id is required")
	}
	if c.Command == "" {
		return fmt.Errorf("mcp: command is required for server %s", c.ID)
	}
	return nil
}

// callTimeout returns the per-request timeout for this server.
func (c *ServerConfig) callTimeout() time.Duration {
	if c.Docker {
		return dockerCallTimeout
	}
	return defaultCallTimeout
}

// Tool is a tool discovered from an MCP server via tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is one content block of a tool result.
type ToolResultContent struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text flattens the result's text blocks into one string.
func (r *ToolCallResult) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += c.Text
		}
	}
	return out
}

// JSON-RPC wire types.

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []*Tool `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
