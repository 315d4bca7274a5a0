package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/iac"
	"github.com/auroraops/aurora/pkg/models"
)

// IaCTool exposes the terraform dispatcher to the agent.
type IaCTool struct {
	dispatcher *iac.Dispatcher
}

// NewIaCTool creates the iac_tool over the given dispatcher.
func NewIaCTool(dispatcher *iac.Dispatcher) *IaCTool {
	return &IaCTool{dispatcher: dispatcher}
}

func (t *IaCTool) Name() string { return "iac_tool" }

func (t *IaCTool) Description() string {
	return "Manage infrastructure as code in a per-session Terraform workspace: write configuration, plan, apply, destroy, and inspect state. Apply and destroy require confirmation."
}

// Destructive marks the tool for read-only-mode filtering.
func (t *IaCTool) Destructive() bool { return true }

// CriticalContext forces principal and session from the server side.
func (t *IaCTool) CriticalContext() bool { return true }

func (t *IaCTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					iac.ActionWrite, iac.ActionFmt, iac.ActionValidate, iac.ActionRefresh,
					iac.ActionOutputs, iac.ActionStateList, iac.ActionStateShow,
					iac.ActionStatePull, iac.ActionPlan, iac.ActionApply, iac.ActionDestroy,
				},
				"description": "Terraform action to run in the session workspace.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Target .tf file for write, or resource address for state_show.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "HCL content for the write action.",
			},
			"vars": map[string]any{
				"type":        "object",
				"description": "Terraform variables passed as -var flags (string values).",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Cloud provider hint (gcp, aws, azure). Omit to infer from the configuration.",
			},
			"auto_approve": map[string]any{
				"type":        "boolean",
				"description": "Skip the confirmation gate. Only honoured for background sessions.",
			},
		},
		"required": []string{"action"},
	})
}

func (t *IaCTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.dispatcher == nil {
		return toolError("iac dispatcher unavailable"), nil
	}
	var input struct {
		sessionContext
		Action      string            `json:"action"`
		Path        string            `json:"path"`
		Content     string            `json:"content"`
		Vars        map[string]string `json:"vars"`
		Provider    string            `json:"provider"`
		AutoApprove bool              `json:"auto_approve"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	action := strings.TrimSpace(input.Action)
	if action == "" {
		return toolError("action is required"), nil
	}

	req := &iac.Request{
		SessionID:      input.SessionID,
		UserID:         input.UserID,
		Action:         action,
		Path:           input.Path,
		Content:        input.Content,
		Vars:           input.Vars,
		AutoApprove:    input.AutoApprove && input.IsBackground,
		Mode:           input.mode(),
		Provider:       models.Provider(input.Provider),
		RecentMessages: recentFromContext(ctx),
	}
	return envelopeResult(t.dispatcher.Dispatch(ctx, req)), nil
}
