package rca

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/internal/incident"
	"github.com/auroraops/aurora/internal/notify"
	"github.com/auroraops/aurora/internal/sessions"
	"github.com/auroraops/aurora/pkg/models"
)

func testRunner(t *testing.T, provider *scriptedProvider) (*Runner, *agent.Engine, sessions.Store, *incident.MemoryStore) {
	t.Helper()
	sessionStore := sessions.NewMemoryStore()
	incidentStore := incident.NewMemoryStore()
	engine := agent.NewEngine(provider, nil, sessionStore,
		config.LLMConfig{DefaultModel: "claude-sonnet-4-20250514", RCAModel: "claude-opus-4-20250514"},
		config.AgentConfig{RecursionLimit: 4}, nil, nil)
	summariser := NewSummariser(provider, "claude-opus-4-20250514")
	runner := NewRunner(engine, sessionStore, incidentStore, nil, summariser, nil, nil, nil)
	return runner, engine, sessionStore, incidentStore
}

func seedIncident(t *testing.T, store *incident.MemoryStore) *models.Incident {
	t.Helper()
	inc := &models.Incident{
		UserID:   "user-1",
		Source:   "grafana",
		Title:    "api p99 latency breach",
		Severity: models.SeverityMedium,
		Service:  "api-gateway",
	}
	if err := store.CreateIncident(context.Background(), inc); err != nil {
		t.Fatal(err)
	}
	return inc
}

func TestRunnerHappyPath(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{turns: []func(*agent.CompletionRequest) []*agent.CompletionChunk{
		textTurn("The database connection pool is exhausted."),
		textTurn("Root cause: connection pool exhaustion on the primary [1]."),
		textTurn("high"),
		textTurn(`[{"type":"command","title":"Restart api","command":"kubectl rollout restart deploy/api"}]`),
	}}
	runner, engine, sessionStore, incidentStore := testRunner(t, provider)
	inc := seedIncident(t, incidentStore)

	// Evidence gathered during the investigation turn.
	capt := engine.CaptureFor("rca-sess-1")
	capt.Start("cloud_exec", "a1b2c3d4e5f60718")
	capt.End(ctx, "cloud_exec", "a1b2c3d4e5f60718",
		`{"success":true,"command":"aws rds describe-db-instances","chat_output":"connections 100/100"}`, false)

	err := runner.Run(ctx, &Task{
		UserID:         "user-1",
		IncidentID:     inc.ID,
		SessionID:      "rca-sess-1",
		InitialMessage: "Investigate the latency breach on api-gateway.",
		Trigger:        map[string]string{"alert": "p99>500ms"},
		Providers:      []models.Provider{models.ProviderAWS},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := incidentStore.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AuroraStatus != models.AuroraComplete {
		t.Errorf("aurora_status = %q", got.AuroraStatus)
	}
	if got.Status != "analyzed" {
		t.Errorf("status = %q", got.Status)
	}
	if !strings.Contains(got.Summary, "[1]") {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Severity != models.SeverityHigh {
		t.Errorf("severity = %q", got.Severity)
	}
	if got.ChatSessionID != "rca-sess-1" {
		t.Errorf("chat_session_id = %q", got.ChatSessionID)
	}

	citations, _ := incidentStore.ListCitations(ctx, inc.ID)
	if len(citations) != 1 || citations[0].ToolName != "cloud_exec" {
		t.Errorf("citations = %+v", citations)
	}
	suggestions, _ := incidentStore.ListSuggestions(ctx, inc.ID)
	if len(suggestions) != 1 || suggestions[0].Type != models.SuggestionCommand {
		t.Errorf("suggestions = %+v", suggestions)
	}

	session, err := sessionStore.GetSession(ctx, "rca-sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("session status = %q", session.Status)
	}
	if session.Mode != models.ModeBackground {
		t.Errorf("session mode = %q", session.Mode)
	}

	if provider.completions() != 4 {
		t.Errorf("completions = %d, want 4", provider.completions())
	}
}

func TestRunnerAlertSummaryFeedsStartNotification(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{turns: []func(*agent.CompletionRequest) []*agent.CompletionChunk{
		textTurn("CPU throttling on the api pods triggered the alert."),
		textTurn("Investigation transcript."),
		textTurn("Root cause: CPU limits too low."),
		textTurn("medium"),
		textTurn(`[]`),
	}}
	runner, _, _, incidentStore := testRunner(t, provider)
	runner.notifier = notify.NewSender(nil, nil, notify.StaticPreferences{
		Prefs: notify.Preferences{NotifyOnStart: true, NotifyOnComplete: true},
	}, nil)
	inc := seedIncident(t, incidentStore)

	err := runner.Run(ctx, &Task{
		UserID:         "user-1",
		IncidentID:     inc.ID,
		SessionID:      "rca-sess-5",
		InitialMessage: "investigate",
		Trigger:        map[string]string{"alert": "cpu_throttling"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// One extra completion for the pre-investigation triage summary.
	if provider.completions() != 5 {
		t.Fatalf("completions = %d, want 5", provider.completions())
	}
	first := provider.calls[0]
	if !strings.Contains(first.Messages[0].Content, "cpu_throttling") {
		t.Errorf("triage prompt = %q, want alert payload", first.Messages[0].Content)
	}
}

func TestRunnerFailureClosesSessionAndIncident(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{err: errors.New("invalid request: model not found")}
	runner, _, sessionStore, incidentStore := testRunner(t, provider)
	inc := seedIncident(t, incidentStore)

	err := runner.Run(ctx, &Task{
		UserID:         "user-1",
		IncidentID:     inc.ID,
		SessionID:      "rca-sess-2",
		InitialMessage: "investigate",
	})
	if err == nil {
		t.Fatal("expected failure")
	}

	session, getErr := sessionStore.GetSession(ctx, "rca-sess-2")
	if getErr != nil {
		t.Fatal(getErr)
	}
	if session.Status != models.SessionFailed {
		t.Errorf("session status = %q, want failed", session.Status)
	}

	got, _ := incidentStore.GetIncident(ctx, inc.ID)
	if got.AuroraStatus != models.AuroraError {
		t.Errorf("aurora_status = %q, want error", got.AuroraStatus)
	}
}

func TestRunnerRateLimited(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{turns: []func(*agent.CompletionRequest) []*agent.CompletionChunk{
		textTurn("unused"),
	}}
	runner, _, _, incidentStore := testRunner(t, provider)
	inc := seedIncident(t, incidentStore)

	rdb := newFakeRedis()
	rdb.counts[rateKeyPrefix+"user-1"] = rateLimitMax
	runner.limiter = &RateLimiter{rdb: rdb}

	err := runner.Run(ctx, &Task{UserID: "user-1", IncidentID: inc.ID, InitialMessage: "go"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// A refused task leaves the incident untouched for a later retry.
	got, _ := incidentStore.GetIncident(ctx, inc.ID)
	if got.AuroraStatus != models.AuroraPending {
		t.Errorf("aurora_status = %q, want pending", got.AuroraStatus)
	}
	if provider.completions() != 0 {
		t.Errorf("completions = %d, want 0", provider.completions())
	}
}

func TestRunnerUnknownIncident(t *testing.T) {
	provider := &scriptedProvider{turns: []func(*agent.CompletionRequest) []*agent.CompletionChunk{
		textTurn("unused"),
	}}
	runner, _, _, _ := testRunner(t, provider)

	err := runner.Run(context.Background(), &Task{UserID: "user-1", IncidentID: "missing"})
	if !errors.Is(err, incident.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
