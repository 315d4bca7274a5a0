package rca

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/auroraops/aurora/internal/incident"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/sessions"
	"github.com/auroraops/aurora/pkg/models"
)

const (
	// staleCutoff is how long a session may sit in_progress before the
	// sweeper declares it abandoned.
	staleCutoff = 20 * time.Minute

	sweepSchedule = "@every 5m"
)

// Sweeper marks abandoned background sessions as failed and back-propagates
// the failure to their incidents. It covers worker crashes that skipped the
// runner's own closure path.
type Sweeper struct {
	sessions  sessions.Store
	incidents incident.Store
	logger    *observability.Logger

	cron *cron.Cron
}

// NewSweeper wires the sweeper over the two stores.
func NewSweeper(sessionStore sessions.Store, incidentStore incident.Store, logger *observability.Logger) *Sweeper {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Sweeper{sessions: sessionStore, incidents: incidentStore, logger: logger}
}

// Start schedules periodic sweeps until Stop is called.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error(ctx, "stale session sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule; a sweep already running finishes.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep fails every in_progress session older than the cutoff and returns
// how many were swept.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.sessions.ListInProgressBefore(ctx, time.Now().Add(-staleCutoff))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, session := range stale {
		if err := s.sessions.UpdateStatus(ctx, session.ID, models.SessionFailed); err != nil {
			s.logger.Error(ctx, "sweep session failed",
				"session_id", session.ID, "error", err)
			continue
		}
		swept++
		if session.IncidentID == "" {
			continue
		}
		err := s.incidents.UpdateAuroraStatus(ctx, session.IncidentID, models.AuroraError)
		if err != nil && !errors.Is(err, incident.ErrInvalidTransition) && !errors.Is(err, incident.ErrNotFound) {
			s.logger.Error(ctx, "sweep incident status failed",
				"incident_id", session.IncidentID, "error", err)
		}
		s.logger.Info(ctx, "stale background session swept",
			"session_id", session.ID, "incident_id", session.IncidentID)
	}
	return swept, nil
}
