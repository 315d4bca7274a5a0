package models

import (
	"encoding/json"
	"time"
)

// Provider identifies a cloud control plane.
type Provider string

const (
	ProviderGCP       Provider = "gcp"
	ProviderAWS       Provider = "aws"
	ProviderAzure     Provider = "azure"
	ProviderOVH       Provider = "ovh"
	ProviderScaleway  Provider = "scaleway"
	ProviderTailscale Provider = "tailscale"
)

// AllProviders lists providers in default priority order.
var AllProviders = []Provider{
	ProviderGCP, ProviderAWS, ProviderAzure, ProviderOVH, ProviderScaleway, ProviderTailscale,
}

// Mode controls what a session is allowed to do.
type Mode string

const (
	// ModeAgent is the interactive agent mode with full tool access.
	ModeAgent Mode = "agent"
	// ModeAsk is read-only: destructive cloud verbs and IaC writes are denied.
	ModeAsk Mode = "ask"
	// ModeBackground runs without a live socket; confirmation gates
	// auto-resolve per policy.
	ModeBackground Mode = "background"
)

// ReadOnly reports whether the mode denies write operations.
func (m Mode) ReadOnly() bool { return m == ModeAsk }

// Background reports whether the mode runs without a live socket.
func (m Mode) Background() bool { return m == ModeBackground }

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// SessionStatus tracks the lifecycle of a chat session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Message is the unified transcript entry format.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Direction   Direction      `json:"direction"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, document, archive
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool { return a.Type == "image" }

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session is one conversation owned by a user principal.
type Session struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Mode       Mode          `json:"mode"`
	Providers  []Provider    `json:"providers,omitempty"`
	IncidentID string        `json:"incident_id,omitempty"`
	Status     SessionStatus `json:"status"`
	Title      string        `json:"title,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
