package rca

import (
	"context"
	"testing"
	"time"

	"github.com/auroraops/aurora/internal/incident"
	"github.com/auroraops/aurora/internal/sessions"
	"github.com/auroraops/aurora/pkg/models"
)

// staleStore wraps the memory store to report a fixed stale set; the memory
// store stamps UpdatedAt itself so tests cannot backdate rows through it.
type staleStore struct {
	*sessions.MemoryStore
	stale []*models.Session
}

func (s *staleStore) ListInProgressBefore(_ context.Context, _ time.Time) ([]*models.Session, error) {
	return s.stale, nil
}

func TestSweeperFailsStaleSessions(t *testing.T) {
	ctx := context.Background()
	sessionStore := &staleStore{MemoryStore: sessions.NewMemoryStore()}
	incidentStore := incident.NewMemoryStore()

	inc := &models.Incident{UserID: "user-1", Source: "grafana", Title: "stuck"}
	if err := incidentStore.CreateIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}
	if err := incidentStore.UpdateAuroraStatus(ctx, inc.ID, models.AuroraRunning); err != nil {
		t.Fatal(err)
	}

	abandoned := &models.Session{
		ID:         "stale-1",
		UserID:     "user-1",
		Mode:       models.ModeBackground,
		IncidentID: inc.ID,
		Status:     models.SessionInProgress,
	}
	if err := sessionStore.CreateSession(ctx, abandoned); err != nil {
		t.Fatal(err)
	}
	sessionStore.stale = []*models.Session{abandoned}

	sweeper := NewSweeper(sessionStore, incidentStore, nil)
	swept, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Errorf("swept = %d", swept)
	}

	session, _ := sessionStore.GetSession(ctx, "stale-1")
	if session.Status != models.SessionFailed {
		t.Errorf("session status = %q", session.Status)
	}
	got, _ := incidentStore.GetIncident(ctx, inc.ID)
	if got.AuroraStatus != models.AuroraError {
		t.Errorf("aurora_status = %q", got.AuroraStatus)
	}
}

func TestSweeperSkipsFinishedIncidents(t *testing.T) {
	ctx := context.Background()
	sessionStore := &staleStore{MemoryStore: sessions.NewMemoryStore()}
	incidentStore := incident.NewMemoryStore()

	inc := &models.Incident{UserID: "user-1", Source: "manual", Title: "done"}
	if err := incidentStore.CreateIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}
	for _, next := range []models.AuroraStatus{models.AuroraRunning, models.AuroraComplete} {
		if err := incidentStore.UpdateAuroraStatus(ctx, inc.ID, next); err != nil {
			t.Fatal(err)
		}
	}

	orphan := &models.Session{ID: "stale-2", UserID: "user-1", IncidentID: inc.ID, Status: models.SessionInProgress}
	if err := sessionStore.CreateSession(ctx, orphan); err != nil {
		t.Fatal(err)
	}
	sessionStore.stale = []*models.Session{orphan}

	sweeper := NewSweeper(sessionStore, incidentStore, nil)
	swept, err := sweeper.Sweep(ctx)
	if err != nil || swept != 1 {
		t.Fatalf("swept = %d err = %v", swept, err)
	}

	// A completed investigation stays complete; only the session flips.
	got, _ := incidentStore.GetIncident(ctx, inc.ID)
	if got.AuroraStatus != models.AuroraComplete {
		t.Errorf("aurora_status = %q", got.AuroraStatus)
	}
}

func TestSweeperNothingStale(t *testing.T) {
	sessionStore := &staleStore{MemoryStore: sessions.NewMemoryStore()}
	sweeper := NewSweeper(sessionStore, incident.NewMemoryStore(), nil)
	if swept, err := sweeper.Sweep(context.Background()); err != nil || swept != 0 {
		t.Errorf("swept = %d err = %v", swept, err)
	}
}
