// Package incident persists incidents and their RCA artifacts: the
// investigation status, the summary with its citations, and the follow-up
// suggestions. Status changes follow the pending → running → {complete,
// error} DAG and are enforced at the store boundary so concurrent writers
// cannot regress a finished investigation.
package incident

import (
	"context"
	"errors"

	"github.com/auroraops/aurora/pkg/models"
)

// ErrNotFound is returned when an incident does not exist.
var ErrNotFound = errors.New("incident: not found")

// ErrInvalidTransition is returned when an aurora_status update would move
// against the DAG.
var ErrInvalidTransition = errors.New("incident: invalid status transition")

// Store is the incident persistence contract.
type Store interface {
	CreateIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)

	// UpdateAuroraStatus advances the investigation status along the DAG.
	// Invalid moves return ErrInvalidTransition and leave the row untouched.
	UpdateAuroraStatus(ctx context.Context, id string, next models.AuroraStatus) error

	// SetSummary stores the RCA summary and marks the incident analyzed.
	SetSummary(ctx context.Context, id, summary string) error
	SetSeverity(ctx context.Context, id string, severity models.Severity) error

	// AttachSession links the background chat session driving the RCA.
	AttachSession(ctx context.Context, id, sessionID string) error

	// ReplaceSuggestions swaps the incident's suggestions for the given set.
	ReplaceSuggestions(ctx context.Context, incidentID string, suggestions []models.Suggestion) error
	ListSuggestions(ctx context.Context, incidentID string) ([]models.Suggestion, error)

	// ReplaceCitations swaps the incident's citations for the given set.
	// Only citations actually referenced by the summary belong here.
	ReplaceCitations(ctx context.Context, incidentID string, citations []models.Citation) error
	ListCitations(ctx context.Context, incidentID string) ([]models.Citation, error)
}

// transitionSources lists the statuses allowed to move to a given target.
func transitionSources(next models.AuroraStatus) []models.AuroraStatus {
	switch next {
	case models.AuroraRunning:
		return []models.AuroraStatus{models.AuroraPending}
	case models.AuroraComplete:
		return []models.AuroraStatus{models.AuroraRunning}
	case models.AuroraError:
		return []models.AuroraStatus{models.AuroraPending, models.AuroraRunning}
	}
	return nil
}
