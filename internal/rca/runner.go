package rca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/incident"
	"github.com/auroraops/aurora/internal/notify"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/prompt"
	"github.com/auroraops/aurora/internal/sessions"
	"github.com/auroraops/aurora/pkg/models"
)

// taskTimeout is the hard ceiling on one investigation.
const taskTimeout = 15 * time.Minute

// ErrRateLimited is returned when the principal exhausted the request window.
var ErrRateLimited = errors.New("rca: rate limited")

// Task is one background investigation request.
type Task struct {
	UserID     string
	IncidentID string
	// SessionID optionally pins the pre-assigned session id; empty means
	// the store generates one.
	SessionID string
	// InitialMessage seeds the investigation turn.
	InitialMessage string
	// Trigger carries the alert metadata for the prompt context.
	Trigger map[string]string
	// Providers scopes the investigation; empty means all connected.
	Providers []models.Provider
}

// Runner executes background RCA tasks end to end: session pre-creation,
// the agent turn, summarisation with citations, and incident bookkeeping.
type Runner struct {
	engine    *agent.Engine
	sessions  sessions.Store
	incidents incident.Store
	limiter   *RateLimiter
	summary   *Summariser
	notifier  *notify.Sender
	logger    *observability.Logger
	metrics   *observability.Metrics

	timeout time.Duration
}

// NewRunner wires the runner. limiter and notifier may be nil.
func NewRunner(engine *agent.Engine, sessionStore sessions.Store, incidentStore incident.Store,
	limiter *RateLimiter, summary *Summariser, notifier *notify.Sender,
	logger *observability.Logger, metrics *observability.Metrics) *Runner {

	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Runner{
		engine:    engine,
		sessions:  sessionStore,
		incidents: incidentStore,
		limiter:   limiter,
		summary:   summary,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		timeout:   taskTimeout,
	}
}

// Run executes one investigation. The session is never left in_progress:
// every exit path closes it as completed or failed, and failures move the
// incident to aurora_status=error.
func (r *Runner) Run(ctx context.Context, task *Task) error {
	allowed, err := r.limiter.Allow(ctx, task.UserID)
	if err != nil {
		r.logger.Warn(ctx, "rate limiter degraded, allowing task",
			"user_id", task.UserID, "error", err)
	}
	if !allowed {
		r.count("rate_limited")
		return ErrRateLimited
	}

	inc, err := r.incidents.GetIncident(ctx, task.IncidentID)
	if err != nil {
		r.count("error")
		return fmt.Errorf("rca: load incident: %w", err)
	}

	session := &models.Session{
		ID:         task.SessionID,
		UserID:     task.UserID,
		Mode:       models.ModeBackground,
		Providers:  task.Providers,
		IncidentID: task.IncidentID,
		Status:     models.SessionInProgress,
		Title:      "RCA: " + inc.Title,
	}
	if err := r.sessions.CreateSession(ctx, session); err != nil {
		r.count("error")
		return fmt.Errorf("rca: create session: %w", err)
	}
	if err := r.incidents.AttachSession(ctx, task.IncidentID, session.ID); err != nil {
		r.logger.Error(ctx, "attach session failed",
			"incident_id", task.IncidentID, "error", err)
	}
	if err := r.incidents.UpdateAuroraStatus(ctx, task.IncidentID, models.AuroraRunning); err != nil {
		r.closeSession(session.ID, models.SessionFailed)
		r.count("error")
		return fmt.Errorf("rca: start investigation: %w", err)
	}
	if r.notifier != nil {
		r.notify(ctx, inc, "started", r.alertSummary(ctx, inc, task))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	runErr := r.investigate(ctx, session, task, inc)
	if runErr == nil {
		runErr = r.finalize(ctx, session, inc)
	}

	// Closure runs outside the task context so a timeout cannot strand the
	// session in_progress.
	if runErr != nil {
		r.closeSession(session.ID, models.SessionFailed)
		r.failIncident(task.IncidentID)
		r.count("error")
		r.engine.ReleaseCapture(session.ID)
		return runErr
	}
	r.closeSession(session.ID, models.SessionCompleted)
	r.count("complete")
	r.engine.ReleaseCapture(session.ID)
	return nil
}

// alertSummary produces the pre-investigation triage summary from the alert
// payload. Best-effort: a failed summary only costs the notification body.
func (r *Runner) alertSummary(ctx context.Context, inc *models.Incident, task *Task) string {
	if len(task.Trigger) == 0 {
		return ""
	}
	summary, err := r.summary.AlertSummary(ctx, inc, task.Trigger)
	if err != nil {
		r.logger.Warn(ctx, "alert summary failed", "incident_id", inc.ID, "error", err)
		return ""
	}
	return summary
}

// investigate runs the agent turn with a no-op sink and drains the stream.
func (r *Runner) investigate(ctx context.Context, session *models.Session, task *Task, inc *models.Incident) error {
	providers := make([]string, len(session.Providers))
	for i, p := range session.Providers {
		providers[i] = string(p)
	}
	msg := &models.Message{
		Role:    models.RoleUser,
		Content: task.InitialMessage,
	}
	chunks, err := r.engine.RunTurn(ctx, session, msg, agent.TurnOptions{
		Sink: fabric.NopSink{},
		RCA: &prompt.RCAContext{
			Source:    inc.Source,
			Providers: providers,
			Trigger:   task.Trigger,
		},
	})
	if err != nil {
		return fmt.Errorf("rca: start turn: %w", err)
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			return fmt.Errorf("rca: investigation turn: %w", chunk.Err)
		}
	}
	return ctx.Err()
}

// finalize produces the cited report, severity, and suggestions, then moves
// the incident to complete. Suggestion extraction is best-effort; the report
// itself is not.
func (r *Runner) finalize(ctx context.Context, session *models.Session, inc *models.Incident) error {
	candidates := CandidateCitations(inc.ID, r.engine.CaptureFor(session.ID).Records())

	report, err := r.summary.IncidentReport(ctx, inc, candidates)
	if err != nil {
		return fmt.Errorf("rca: incident report: %w", err)
	}
	if err := r.incidents.ReplaceCitations(ctx, inc.ID, FilterCited(report, candidates)); err != nil {
		return fmt.Errorf("rca: persist citations: %w", err)
	}
	if err := r.incidents.SetSummary(ctx, inc.ID, report); err != nil {
		return fmt.Errorf("rca: persist summary: %w", err)
	}

	history, err := r.sessions.History(ctx, session.ID, 0)
	if err == nil {
		if severity, sevErr := r.summary.Severity(ctx, history); sevErr == nil {
			if err := r.incidents.SetSeverity(ctx, inc.ID, severity); err != nil {
				r.logger.Error(ctx, "persist severity failed", "incident_id", inc.ID, "error", err)
			}
		} else {
			r.logger.Warn(ctx, "severity evaluation failed", "incident_id", inc.ID, "error", sevErr)
		}
	}

	suggestions, err := r.summary.Suggestions(ctx, inc, report)
	if err != nil {
		r.logger.Warn(ctx, "suggestion extraction failed", "incident_id", inc.ID, "error", err)
	} else if err := r.incidents.ReplaceSuggestions(ctx, inc.ID, suggestions); err != nil {
		r.logger.Error(ctx, "persist suggestions failed", "incident_id", inc.ID, "error", err)
	}

	if err := r.incidents.UpdateAuroraStatus(ctx, inc.ID, models.AuroraComplete); err != nil {
		return fmt.Errorf("rca: complete investigation: %w", err)
	}
	r.notify(ctx, inc, "completed", report)
	return nil
}

// closeSession runs on a fresh context; the task context may already be dead.
func (r *Runner) closeSession(sessionID string, status models.SessionStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
		r.logger.Error(ctx, "close session failed",
			"session_id", sessionID, "status", string(status), "error", err)
	}
}

func (r *Runner) failIncident(incidentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.incidents.UpdateAuroraStatus(ctx, incidentID, models.AuroraError)
	if err != nil && !errors.Is(err, incident.ErrInvalidTransition) {
		r.logger.Error(ctx, "fail incident status", "incident_id", incidentID, "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, inc *models.Incident, stage, body string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Send(ctx, &notify.Event{Incident: inc, Stage: stage, Body: body})
}

func (r *Runner) count(outcome string) {
	if r.metrics != nil {
		r.metrics.RCATasks.WithLabelValues(outcome).Inc()
	}
}
