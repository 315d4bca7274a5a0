package models

import "time"

// ToolEventType is the socket-facing event discriminator.
type ToolEventType string

const (
	EventToolCall   ToolEventType = "tool_call"
	EventToolResult ToolEventType = "tool_result"
	EventToolError  ToolEventType = "tool_error"
	EventToast      ToolEventType = "toast_notification"
)

// ToolEventStatus describes where a call is in its lifecycle.
type ToolEventStatus string

const (
	StatusRunning              ToolEventStatus = "running"
	StatusCompleted            ToolEventStatus = "completed"
	StatusError                ToolEventStatus = "error"
	StatusAwaitingConfirmation ToolEventStatus = "awaiting_confirmation"
)

// ToolEvent is the out-of-band envelope pushed over the socket for every
// tool start, completion, and error. ToolCallID carries the deterministic
// signature id so the client can pair start and end frames even when the
// model runs tools in parallel.
type ToolEvent struct {
	Type      ToolEventType `json:"type"`
	Data      ToolEventData `json:"data"`
	SessionID string        `json:"session_id,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
}

// ToolEventData is the payload portion of a ToolEvent.
type ToolEventData struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Status     ToolEventStatus `json:"status"`
	Input      any             `json:"input,omitempty"`
	ToolInput  any             `json:"tool_input,omitempty"`
	Output     any             `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Toast builds a toast_notification event.
func Toast(sessionID, userID, message string) *ToolEvent {
	return &ToolEvent{
		Type:      EventToast,
		SessionID: sessionID,
		UserID:    userID,
		Data: ToolEventData{
			Message:   message,
			Status:    StatusCompleted,
			Timestamp: time.Now(),
		},
	}
}
