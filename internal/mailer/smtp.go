package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"

	"github.com/dajohi/goemail"
	"github.com/fileshare/apiserver/config"
)

// SMTPMailer sends messages through an SMTPS server. It is disabled, and
// silently drops messages, when the host or credentials are not configured.
type SMTPMailer struct {
	smtp        *goemail.SMTP
	mailName    string
	mailAddress string
	disabled    bool
}

// NewSMTPMailer returns an SMTP mailer for cfg.
func NewSMTPMailer(cfg config.MailConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.SMTPHost == "" || cfg.SMTPUser == "" || cfg.SMTPPassword == "" {
		logger.Info("mail: smtp disabled")
		return &SMTPMailer{disabled: true}, nil
	}

	u := &url.URL{
		Scheme: "smtps",
		User:   url.UserPassword(cfg.SMTPUser, cfg.SMTPPassword),
		Host:   cfg.SMTPHost,
	}

	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse mail from address: %w", err)
	}

	logger.Info("mail: smtp enabled",
		"host", fmt.Sprintf("smtps://%s:[password]@%s", cfg.SMTPUser, cfg.SMTPHost),
		"from", from.String(),
	)

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.SMTPSkipTLS,
		ServerName:         u.Hostname(),
	}
	client, err := goemail.NewSMTP(u.String(), tlsConfig)
	if err != nil {
		return nil, err
	}

	return &SMTPMailer{
		smtp:        client,
		mailName:    from.Name,
		mailAddress: from.Address,
	}, nil
}

// Enabled reports whether messages are actually delivered.
func (m *SMTPMailer) Enabled() bool {
	return !m.disabled
}

func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	if m.disabled || msg.To == "" {
		return nil
	}

	return m.smtp.Send(m.message(msg))
}

// message addresses msg to its single recipient in the To header.
func (m *SMTPMailer) message(msg Message) *goemail.Message {
	email := goemail.NewMessage(m.mailAddress, msg.Subject, msg.Body)
	email.SetName(m.mailName)
	email.AddTo(msg.To)
	return email
}
