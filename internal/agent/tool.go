package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/pkg/models"
)

const (
	// MaxToolNameLength caps tool names to guard against malformed model
	// output being used as a map key.
	MaxToolNameLength = 256

	// MaxToolParamsSize caps tool parameters at 10MB.
	MaxToolParamsSize = 10 * 1024 * 1024
)

// Tool is an executable agent tool surfaced to the model.
type Tool interface {
	// Name returns the tool name for model function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Params match Schema().
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution. Error conditions travel via
// IsError so the model can react to failures.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// DestructiveTool marks tools that mutate infrastructure. Read-only sessions
// exclude them from the tool set.
type DestructiveTool interface {
	Destructive() bool
}

// CriticalContextTool marks tools whose principal and session must always
// come from the request context, never from model-supplied arguments.
type CriticalContextTool interface {
	CriticalContext() bool
}

// Registry holds the available tools for a turn. Registration order is
// preserved; duplicate names are dropped deterministically (first wins).
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *observability.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. A duplicate name is ignored so that the first
// registered occurrence wins regardless of discovery order.
func (r *Registry) Register(tool Tool) {
	if tool == nil {
		return
	}
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		r.logger.Warn(context.Background(), "rejecting tool with invalid name", "length", len(name))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Debug(context.Background(), "duplicate tool name ignored", "tool_name", name)
		return
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ForMode returns the tools permitted in the given mode. Read-only sessions
// drop destructive tools entirely rather than letting them fail at dispatch.
func (r *Registry) ForMode(mode models.Mode) []Tool {
	tools := r.List()
	if !mode.ReadOnly() {
		return tools
	}
	out := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if d, ok := tool.(DestructiveTool); ok && d.Destructive() {
			continue
		}
		out = append(out, tool)
	}
	return out
}

// Execute validates and runs a tool by name. Validation failures come back
// as error ToolResults, not errors, so the model sees them and can adjust.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	tool, ok := r.Get(name)
	if !ok {
		return &ToolResult{
			Content: fmt.Sprintf("unknown tool: %s", name),
			IsError: true,
		}, nil
	}
	return tool.Execute(ctx, params)
}

// Manifest renders a short tool inventory for the system prompt.
func Manifest(tools []Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}
