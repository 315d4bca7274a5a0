// Package sessions persists chat sessions and their transcripts. The engine
// treats the store as the canonical transcript; history presented to the
// model is derived from it and never written back.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/auroraops/aurora/pkg/models"
)

// ErrNotFound is returned when a session or message does not exist.
var ErrNotFound = errors.New("sessions: not found")

// Store is the interface for session and transcript persistence.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error

	// ListInProgressBefore returns sessions still in_progress whose last
	// update precedes the cutoff. Used by the stale-session sweeper.
	ListInProgressBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error)

	AppendMessage(ctx context.Context, msg *models.Message) error

	// History returns the transcript in chronological order. A limit of 0
	// means no limit; otherwise the most recent limit messages are returned.
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}
