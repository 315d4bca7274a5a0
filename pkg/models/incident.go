package models

import "time"

// AuroraStatus tracks the RCA investigation state of an incident.
// Transitions follow the DAG pending → running → {complete, error};
// anything else is rejected except an explicit cancellation override.
type AuroraStatus string

const (
	AuroraPending  AuroraStatus = "pending"
	AuroraRunning  AuroraStatus = "running"
	AuroraComplete AuroraStatus = "complete"
	AuroraError    AuroraStatus = "error"
)

// CanTransition reports whether s may move to next along the status DAG.
func (s AuroraStatus) CanTransition(next AuroraStatus) bool {
	switch s {
	case AuroraPending:
		return next == AuroraRunning || next == AuroraError
	case AuroraRunning:
		return next == AuroraComplete || next == AuroraError
	}
	return false
}

// Severity buckets for incidents.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Incident is the persistent record an RCA investigation attaches to.
type Incident struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Source        string       `json:"source"` // grafana, splunk, dynatrace, manual
	Title         string       `json:"title"`
	Severity      Severity     `json:"severity"`
	Service       string       `json:"service,omitempty"`
	Status        string       `json:"status"` // open, investigating, analyzed, resolved
	AuroraStatus  AuroraStatus `json:"aurora_status"`
	Summary       string       `json:"summary,omitempty"`
	ChatSessionID string       `json:"chat_session_id,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// SuggestionType distinguishes follow-up actions extracted post-RCA.
type SuggestionType string

const (
	SuggestionFix     SuggestionType = "fix"
	SuggestionCommand SuggestionType = "command"
)

// Suggestion is a structured follow-up action attached to an incident.
type Suggestion struct {
	ID               string         `json:"id"`
	IncidentID       string         `json:"incident_id"`
	Type             SuggestionType `json:"type"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Risk             string         `json:"risk,omitempty"`
	Repository       string         `json:"repository,omitempty"`
	FilePath         string         `json:"file_path,omitempty"`
	SuggestedContent string         `json:"suggested_content,omitempty"`
	Command          string         `json:"command,omitempty"`
	PRURL            string         `json:"pr_url,omitempty"`
	CreatedBranch    string         `json:"created_branch,omitempty"`
	AppliedAt        *time.Time     `json:"applied_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Citation anchors a summary marker [n] to the tool call that produced the
// evidence.
type Citation struct {
	IncidentID    string `json:"incident_id"`
	Index         int    `json:"index"`
	ToolName      string `json:"tool_name"`
	Command       string `json:"command,omitempty"`
	OutputExcerpt string `json:"output_excerpt,omitempty"`
}
