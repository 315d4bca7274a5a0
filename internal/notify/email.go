package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/auroraops/aurora/internal/config"
)

// sendMailFunc matches smtp.SendMail so tests can intercept delivery.
type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers incident notifications over SMTP.
type EmailSender struct {
	cfg  config.SMTPConfig
	send sendMailFunc
}

// NewEmailSender builds a sender from SMTP config. Missing host disables email.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	if cfg.Host == "" {
		return nil
	}
	return &EmailSender{cfg: cfg, send: smtp.SendMail}
}

// Send delivers the event to one recipient.
func (e *EmailSender) Send(ctx context.Context, to string, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("[Aurora] %s", ev.Incident.Title)
	if ev.Stage == "started" {
		subject = fmt.Sprintf("[Aurora] Investigating: %s", ev.Incident.Title)
	}
	msg := buildMessage(e.cfg.From, to, subject, formatMessage(ev))

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	return e.send(addr, auth, e.cfg.From, []string{to}, msg)
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
