package agent

import (
	"fmt"
	"strings"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// maxToolOutputBytes caps tool outputs re-sent to the model as history.
// Larger outputs fall back to the capture's pre-summarised form when one
// exists, else a hard truncation.
const maxToolOutputBytes = 4 * 1024

// MapHistory converts the canonical transcript into model messages. The
// canonical transcript is never mutated; truncation and summaries apply only
// to the copy handed to the model.
func MapHistory(msgs []*models.Message, capt *capture.Capture) []CompletionMessage {
	// Tool call ids from the vendor differ per turn; the signature is
	// recomputable from name+input and keys the capture records.
	signatures := make(map[string]string)
	for _, msg := range msgs {
		for _, call := range msg.ToolCalls {
			signatures[call.ID] = capture.SignatureFromRaw(call.Name, call.Input)
		}
	}

	out := make([]CompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, CompletionMessage{
				Role:        "user",
				Content:     msg.Content,
				Attachments: msg.Attachments,
			})

		case models.RoleAssistant:
			content := msg.Content
			if content == "" && len(msg.ToolCalls) > 0 {
				content = toolCallPlaceholder(msg.ToolCalls)
			}
			if content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			out = append(out, CompletionMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: msg.ToolCalls,
			})

		case models.RoleTool:
			results := make([]models.ToolResult, len(msg.ToolResults))
			for i, res := range msg.ToolResults {
				results[i] = res
				results[i].Content = boundedOutput(res, signatures, capt)
			}
			out = append(out, CompletionMessage{
				Role:        "user",
				ToolResults: results,
			})

		case models.RoleSystem:
			out = append(out, CompletionMessage{Role: "system", Content: msg.Content})
		}
	}
	return out
}

func boundedOutput(res models.ToolResult, signatures map[string]string, capt *capture.Capture) string {
	if len(res.Content) <= maxToolOutputBytes {
		return res.Content
	}
	if capt != nil {
		if sig, ok := signatures[res.ToolCallID]; ok {
			if rec, found := capt.Get(sig); found && rec.Summary != "" {
				return rec.Summary
			}
		}
	}
	return sanitize.Truncate(res.Content, maxToolOutputBytes)
}

// toolCallPlaceholder flattens tool calls into a compact description for
// assistant messages with no text of their own.
func toolCallPlaceholder(calls []models.ToolCall) string {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	return fmt.Sprintf("[calling %s]", strings.Join(names, ", "))
}
