// Package agent drives the streaming tool-execution loop: it assembles the
// tool set for a turn, wraps every tool with capture, notification, and
// context-injection middleware, and runs the model until it produces a
// terminal response or the user cancels.
package agent

import (
	"context"

	"github.com/auroraops/aurora/pkg/models"
)

// LLMProvider is the interface for chat model backends. Implementations must
// be safe for concurrent use; each Complete call owns an independent stream.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel
	// is closed when the stream finishes or fails.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name for routing and logging.
	Name() string

	// Models returns available models.
	Models() []Model
}

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []Tool              `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single conversation entry in model format.
// Role is one of "user", "assistant", "system".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one streamed piece of a model response. Token counts
// are only populated on the final chunk.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// Model describes an available chat model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// ResponseChunk is what RunTurn streams to its caller: token deltas, tool
// results as they land, a terminal Done marker, or an error.
type ResponseChunk struct {
	Text       string             `json:"text,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Done       bool               `json:"done,omitempty"`
	Err        error              `json:"-"`
}
