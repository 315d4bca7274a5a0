package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/pkg/models"
)

// toolPrefix namespaces MCP tools away from native tool names.
const toolPrefix = "mcp_"

// destructivePrefixes mark MCP verbs that mutate remote state and therefore
// go through the same confirmation gate as cloud writes.
var destructivePrefixes = []string{"create_", "delete_", "push_", "merge_", "update_"}

// destructiveNames are explicit destructive tools that the prefix list does
// not cover.
var destructiveNames = map[string]bool{
	"merge_pull_request": true,
}

// DestructiveToolName reports whether a raw MCP tool name mutates state.
func DestructiveToolName(name string) bool {
	if destructiveNames[name] {
		return true
	}
	for _, prefix := range destructivePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Bridge surfaces discovered MCP tools as agent tools.
type Bridge struct {
	manager   *Manager
	confirmer fabric.Confirmer
}

// NewBridge creates a bridge over the manager. confirmer gates destructive
// MCP verbs; nil denies them.
func NewBridge(manager *Manager, confirmer fabric.Confirmer) *Bridge {
	if confirmer == nil {
		confirmer = fabric.AutoConfirmer{Approve: false}
	}
	return &Bridge{manager: manager, confirmer: confirmer}
}

// UserTools returns the user's discovered MCP tools ready for registration,
// sorted by name for deterministic duplicate filtering downstream.
func (b *Bridge) UserTools(ctx context.Context, userID string) ([]agent.Tool, error) {
	byServer, err := b.manager.UserTools(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []agent.Tool
	for serverID, tools := range byServer {
		for _, tool := range tools {
			out = append(out, &bridgedTool{
				bridge:   b,
				serverID: serverID,
				tool:     tool,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// bridgedTool adapts one MCP tool to the agent's Tool interface.
type bridgedTool struct {
	bridge   *Bridge
	serverID string
	tool     *Tool
}

func (t *bridgedTool) Name() string { return toolPrefix + t.tool.Name }

func (t *bridgedTool) Description() string {
	if t.tool.Description != "" {
		return t.tool.Description
	}
	return fmt.Sprintf("MCP tool %s from server %s", t.tool.Name, t.serverID)
}

func (t *bridgedTool) Schema() json.RawMessage {
	if len(t.tool.InputSchema) > 0 {
		return t.tool.InputSchema
	}
	return json.RawMessage(`{"type":"object"}`)
}

// Destructive implements the read-only-mode filter for mutating MCP verbs.
func (t *bridgedTool) Destructive() bool {
	return DestructiveToolName(t.tool.Name)
}

func (t *bridgedTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var arguments map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &arguments); err != nil {
			return &agent.ToolResult{
				Content: fmt.Sprintf("invalid parameters: %v", err),
				IsError: true,
			}, nil
		}
	}

	userID, sessionID := callerIdentity(ctx, arguments)
	if userID == "" {
		return &agent.ToolResult{Content: "no user context for MCP call", IsError: true}, nil
	}
	// Ambient context keys are for Aurora's bookkeeping, not the server.
	delete(arguments, "user_id")
	delete(arguments, "session_id")
	delete(arguments, "mode")
	delete(arguments, "is_background")

	if t.Destructive() {
		approved, err := t.bridge.confirmer.Confirm(ctx, &fabric.ConfirmationRequest{
			SessionID: sessionID,
			UserID:    userID,
			ToolName:  t.Name(),
			Summary:   fmt.Sprintf("%s via MCP server %s", t.tool.Name, t.serverID),
		})
		if err != nil || !approved {
			return &agent.ToolResult{
				Content: models.CancelledEnvelope(t.tool.Name).Encode(),
			}, nil
		}
	}

	result, err := t.bridge.manager.CallTool(ctx, userID, t.serverID, t.tool.Name, arguments)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	text := result.Text()
	if text == "" {
		text = "(no output)"
	}
	return &agent.ToolResult{Content: text, IsError: result.IsError}, nil
}

// callerIdentity resolves the principal from the injected parameters, falling
// back to the session on the context.
func callerIdentity(ctx context.Context, arguments map[string]any) (userID, sessionID string) {
	if v, ok := arguments["user_id"].(string); ok {
		userID = v
	}
	if v, ok := arguments["session_id"].(string); ok {
		sessionID = v
	}
	if userID == "" {
		if session, ok := agent.SessionFromContext(ctx); ok {
			userID = session.UserID
			sessionID = session.ID
		}
	}
	return userID, sessionID
}
