package models

import "encoding/json"

// Error codes surfaced to the model inside tool envelopes.
const (
	CodeRequiresConnection = "requires_connection"
	CodeReadOnlyMode       = "READ_ONLY_MODE"
	CodeUserCancelled      = "user_cancelled"
	CodeCLIMissing         = "cli_missing"
	CodeTimeout            = "timeout"
)

// ToolEnvelope is the common JSON shape every tool returns. Cancellation,
// timeouts, and CLI failures are all expressed through it; tools never
// propagate errors across the wrapper boundary.
type ToolEnvelope struct {
	Success      bool   `json:"success"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error,omitempty"`
	Command      string `json:"command,omitempty"`
	FinalCommand string `json:"final_command,omitempty"`
	Provider     string `json:"provider,omitempty"`
	ReturnCode   *int   `json:"return_code,omitempty"`
	ChatOutput   string `json:"chat_output,omitempty"`
	Data         any    `json:"data,omitempty"`

	ResourceID   string `json:"resource_id,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`
	AuthMethod   string `json:"auth_method,omitempty"`
	OutputFile   string `json:"output_file,omitempty"`

	FilterApplied     bool   `json:"filter_applied,omitempty"`
	FilterCommand     string `json:"filter_command,omitempty"`
	LargeOutputNote   string `json:"large_output_note,omitempty"`
	OriginalReference string `json:"original_reference,omitempty"`

	MultiAccount     bool                     `json:"multi_account,omitempty"`
	AccountsQueried  int                      `json:"accounts_queried,omitempty"`
	ResultsByAccount map[string]*ToolEnvelope `json:"results_by_account,omitempty"`

	Status        string `json:"status,omitempty"`
	UserCancelled bool   `json:"user_cancelled,omitempty"`
	InternalNote  string `json:"internal_note,omitempty"`

	Outputs               map[string]any `json:"outputs,omitempty"`
	PostCompletionActions map[string]any `json:"post_completion_actions,omitempty"`
	Extra                 map[string]any `json:"-"`
}

// CancelledEnvelope builds the standard envelope for a user-rejected
// confirmation. The internal note tells the model not to retry the same
// operation through a different tool.
func CancelledEnvelope(command string) *ToolEnvelope {
	return &ToolEnvelope{
		Success:       false,
		Code:          CodeUserCancelled,
		Status:        "cancelled",
		UserCancelled: true,
		Command:       command,
		InternalNote:  "User cancelled — do not retry via another tool",
	}
}

// ErrorEnvelope builds a failure envelope with a code and message.
func ErrorEnvelope(code, msg string) *ToolEnvelope {
	return &ToolEnvelope{Success: false, Code: code, Error: msg}
}

// Encode renders the envelope as a JSON string. Marshalling failures fall
// back to a minimal literal so the wrapper boundary never raises.
func (e *ToolEnvelope) Encode() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"success":false,"error":"envelope encoding failed"}`
	}
	return string(b)
}

// IsError reports whether the envelope should be captured as an error.
// Cancellations and timeouts are deliberate outcomes, not errors.
func (e *ToolEnvelope) IsError() bool {
	if e.Success {
		return false
	}
	switch e.Code {
	case CodeUserCancelled, CodeTimeout:
		return false
	}
	return true
}
