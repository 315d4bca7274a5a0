package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/slack-go/slack"

	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/pkg/models"
)

type fakePoster struct {
	channels []string
	texts    []string
	err      error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	// MsgOption internals are opaque; record the channel and count only.
	f.texts = append(f.texts, "")
	return channelID, "123.456", f.err
}

func testIncident() *models.Incident {
	return &models.Incident{
		ID:       "inc-1",
		UserID:   "user-1",
		Source:   "grafana",
		Title:    "api-gateway p99 latency breach",
		Severity: models.SeverityHigh,
	}
}

func TestFormatMessage(t *testing.T) {
	started := formatMessage(&Event{Incident: testIncident(), Stage: "started"})
	if !strings.Contains(started, "Investigating") || !strings.Contains(started, "p99 latency") {
		t.Errorf("started = %q", started)
	}

	done := formatMessage(&Event{
		Incident: testIncident(),
		Stage:    "completed",
		Body:     "Root cause: connection pool exhaustion [1].",
	})
	if !strings.Contains(done, "Incident analyzed") || !strings.Contains(done, "pool exhaustion") {
		t.Errorf("completed = %q", done)
	}
}

func TestSenderHonoursOptIn(t *testing.T) {
	poster := &fakePoster{}
	sender := NewSender(&SlackSender{client: poster}, nil, StaticPreferences{
		Prefs: Preferences{SlackChannel: "#incidents", NotifyOnComplete: true},
	}, nil)

	// Start notifications are not opted in.
	sender.Send(context.Background(), &Event{Incident: testIncident(), Stage: "started"})
	if len(poster.channels) != 0 {
		t.Fatal("start notification sent without opt-in")
	}

	sender.Send(context.Background(), &Event{Incident: testIncident(), Stage: "completed", Body: "done"})
	if len(poster.channels) != 1 || poster.channels[0] != "#incidents" {
		t.Errorf("channels = %v", poster.channels)
	}
}

func TestSenderSkipsChannelsWithoutDestination(t *testing.T) {
	poster := &fakePoster{}
	sender := NewSender(&SlackSender{client: poster}, nil, StaticPreferences{
		Prefs: Preferences{NotifyOnComplete: true}, // no channel configured
	}, nil)

	sender.Send(context.Background(), &Event{Incident: testIncident(), Stage: "completed"})
	if len(poster.channels) != 0 {
		t.Error("message posted with no destination channel")
	}
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sender := &EmailSender{
		cfg: config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "aurora@example.com"},
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			return nil
		},
	}

	err := sender.Send(context.Background(), "oncall@example.com", &Event{
		Incident: testIncident(),
		Stage:    "completed",
		Body:     "Root cause identified.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "aurora@example.com" {
		t.Errorf("addr = %q from = %q", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "oncall@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Subject: [Aurora] api-gateway p99 latency breach") {
		t.Errorf("message = %q", body)
	}
	if !strings.Contains(body, "Root cause identified.") {
		t.Errorf("message missing body: %q", body)
	}
}

func TestNewSendersDisabledWhenUnconfigured(t *testing.T) {
	if NewSlackSender("") != nil {
		t.Error("empty token should disable Slack")
	}
	if NewEmailSender(config.SMTPConfig{}) != nil {
		t.Error("empty SMTP host should disable email")
	}
}
