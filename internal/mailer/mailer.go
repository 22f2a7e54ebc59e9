// Package mailer delivers account emails. Messages go to the log, straight
// to an SMTP server, or onto a message queue drained by the mailer worker.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fileshare/apiserver/config"
	"github.com/fileshare/apiserver/internal/mq"
)

// Message is a single plain-text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Publisher is the subset of the message queue used by the queue transport.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// New returns the Mailer selected by cfg.Transport. The queue transport
// requires a non-nil publisher.
func New(cfg config.MailConfig, publisher Publisher, logger *slog.Logger) (Mailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "log":
		return NewLogMailer(logger), nil
	case "smtp":
		return NewSMTPMailer(cfg, logger)
	case "queue":
		if publisher == nil {
			return nil, errors.New("queue mail transport requires a message queue")
		}
		return NewQueueMailer(publisher, cfg.Queue), nil
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", cfg.Transport)
	}
}

// NeedsQueue reports whether the configured transport publishes to the
// message queue.
func NeedsQueue(cfg config.MailConfig) bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Transport), "queue")
}

// Ensure the queue wrapper satisfies Publisher.
var _ Publisher = (*mq.MQ)(nil)

// VerificationMessage builds the email sent after a client signs up.
func VerificationMessage(to, username, link string) Message {
	body := fmt.Sprintf(`Hi %s,

Please verify your email address by opening the link below:

%s

The link expires in 24 hours. If you did not create an account, ignore this email.
`, username, link)

	return Message{
		To:      to,
		Subject: "Verify your email",
		Body:    body,
	}
}
