// Package notify delivers incident notifications: Slack messages, email, and
// in-app toasts over the fabric. Delivery honours per-user opt-in preferences
// and failures never interrupt the pipeline that triggered them.
package notify

import (
	"context"

	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/pkg/models"
)

// Preferences is a user's notification opt-in state.
type Preferences struct {
	SlackChannel string
	Email        string
	// NotifyOnStart sends a notification when an investigation begins.
	NotifyOnStart bool
	// NotifyOnComplete sends the outcome notification.
	NotifyOnComplete bool
}

// PreferenceSource resolves a user's notification preferences.
type PreferenceSource interface {
	PreferencesFor(ctx context.Context, userID string) (Preferences, error)
}

// StaticPreferences implements PreferenceSource with one fixed value.
type StaticPreferences struct {
	Prefs Preferences
}

func (s StaticPreferences) PreferencesFor(context.Context, string) (Preferences, error) {
	return s.Prefs, nil
}

// Event is one notification about an incident.
type Event struct {
	Incident *models.Incident
	// Stage is "started" or "completed".
	Stage string
	// Body is the rendered notification text; for completions it carries
	// the RCA summary.
	Body string
}

// Sender fans one event out to every opted-in channel.
type Sender struct {
	slack  *SlackSender
	email  *EmailSender
	prefs  PreferenceSource
	logger *observability.Logger
}

// NewSender wires the sender. Nil slack or email disables that channel.
func NewSender(slack *SlackSender, email *EmailSender, prefs PreferenceSource, logger *observability.Logger) *Sender {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if prefs == nil {
		prefs = StaticPreferences{}
	}
	return &Sender{slack: slack, email: email, prefs: prefs, logger: logger}
}

// Send delivers the event per the user's preferences. Channel failures are
// logged and swallowed; a lost notification must not fail an RCA task.
func (s *Sender) Send(ctx context.Context, ev *Event) {
	if ev == nil || ev.Incident == nil {
		return
	}
	prefs, err := s.prefs.PreferencesFor(ctx, ev.Incident.UserID)
	if err != nil {
		s.logger.Warn(ctx, "notification preferences lookup failed",
			"user_id", ev.Incident.UserID, "error", err)
		return
	}
	if ev.Stage == "started" && !prefs.NotifyOnStart {
		return
	}
	if ev.Stage == "completed" && !prefs.NotifyOnComplete {
		return
	}

	if s.slack != nil && prefs.SlackChannel != "" {
		if err := s.slack.Send(ctx, prefs.SlackChannel, ev); err != nil {
			s.logger.Warn(ctx, "slack notification failed",
				"incident_id", ev.Incident.ID, "error", err)
		}
	}
	if s.email != nil && prefs.Email != "" {
		if err := s.email.Send(ctx, prefs.Email, ev); err != nil {
			s.logger.Warn(ctx, "email notification failed",
				"incident_id", ev.Incident.ID, "error", err)
		}
	}
}
