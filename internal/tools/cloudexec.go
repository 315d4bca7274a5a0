package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/cloudexec"
	"github.com/auroraops/aurora/pkg/models"
)

// CloudExecTool exposes the cloud command dispatcher to the agent.
type CloudExecTool struct {
	dispatcher *cloudexec.Dispatcher
}

// NewCloudExecTool creates the cloud_exec tool over the given dispatcher.
func NewCloudExecTool(dispatcher *cloudexec.Dispatcher) *CloudExecTool {
	return &CloudExecTool{dispatcher: dispatcher}
}

func (t *CloudExecTool) Name() string { return "cloud_exec" }

func (t *CloudExecTool) Description() string {
	return "Run a cloud provider CLI command (gcloud, aws, az, kubectl, ovh, scw, tailscale) with the user's stored credentials. Write operations require confirmation."
}

// Destructive marks the tool for read-only-mode filtering; the dispatcher
// still gates individual verbs.
func (t *CloudExecTool) Destructive() bool { return true }

// CriticalContext forces principal and session from the server side,
// overriding any model-supplied values.
func (t *CloudExecTool) CriticalContext() bool { return true }

func (t *CloudExecTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The CLI command to run, e.g. 'gcloud compute instances list'.",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Cloud provider hint (gcp, aws, azure, ovh, scaleway, tailscale). Omit to auto-detect.",
			},
			"account": map[string]any{
				"type":        "string",
				"description": "Pin the command to one stored account/connection.",
			},
			"all_accounts": map[string]any{
				"type":        "boolean",
				"description": "Force the AWS fan-out across every stored account. Fan-out is automatic when no account is pinned and more than one AWS connection exists.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout override in seconds.",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	})
}

func (t *CloudExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.dispatcher == nil {
		return toolError("cloud dispatcher unavailable"), nil
	}
	var input struct {
		sessionContext
		Command     string `json:"command"`
		Provider    string `json:"provider"`
		Account     string `json:"account"`
		AllAccounts bool   `json:"all_accounts"`
		Timeout     int    `json:"timeout"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	req := &cloudexec.DispatchRequest{
		SessionID:      input.SessionID,
		UserID:         input.UserID,
		Command:        command,
		Provider:       models.Provider(input.Provider),
		Mode:           input.mode(),
		Account:        input.Account,
		AllAccounts:    input.AllAccounts,
		TimeoutSeconds: input.Timeout,
		RecentMessages: recentFromContext(ctx),
	}
	return envelopeResult(t.dispatcher.Dispatch(ctx, req)), nil
}

// recentFromContext feeds provider detection with the session's recent
// transcript when the engine put one on the context.
func recentFromContext(ctx context.Context) []string {
	if recent, ok := agent.RecentMessagesFromContext(ctx); ok {
		return recent
	}
	return nil
}
