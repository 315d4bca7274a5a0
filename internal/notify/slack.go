package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// slackPoster is the slice of the Slack client the sender uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSender posts incident notifications to a Slack channel.
type SlackSender struct {
	client slackPoster
}

// NewSlackSender builds a sender from a bot token. Empty token disables Slack.
func NewSlackSender(token string) *SlackSender {
	if token == "" {
		return nil
	}
	return &SlackSender{client: slack.New(token)}
}

// Send posts the event as a single message.
func (s *SlackSender) Send(ctx context.Context, channel string, ev *Event) error {
	_, _, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(formatMessage(ev), false))
	return err
}

// formatMessage renders the notification body shared by Slack and email.
func formatMessage(ev *Event) string {
	inc := ev.Incident
	switch ev.Stage {
	case "started":
		return fmt.Sprintf("Investigating incident: %s (%s, severity %s)",
			inc.Title, inc.Source, inc.Severity)
	default:
		head := fmt.Sprintf("Incident analyzed: %s (severity %s)", inc.Title, inc.Severity)
		if ev.Body == "" {
			return head
		}
		return head + "\n\n" + ev.Body
	}
}
