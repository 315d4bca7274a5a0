// Package tools adapts the cloud and IaC dispatchers to the agent's Tool
// interface. Each adapter decodes the model's parameters plus the injected
// session context, runs its dispatcher, and returns the envelope verbatim as
// the tool result.
package tools

import (
	"encoding/json"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/pkg/models"
)

// sessionContext is the ambient context injected by the wrapper stack. Tools
// trust these fields over anything the model supplies.
type sessionContext struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	Mode         string `json:"mode"`
	IsBackground bool   `json:"is_background"`
}

func (c sessionContext) mode() models.Mode {
	if c.Mode == "" {
		return models.ModeAgent
	}
	return models.Mode(c.Mode)
}

func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

func envelopeResult(env *models.ToolEnvelope) *agent.ToolResult {
	return &agent.ToolResult{Content: env.Encode(), IsError: env.IsError()}
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
