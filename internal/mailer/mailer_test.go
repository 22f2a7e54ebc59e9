package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/fileshare/apiserver/config"
	"github.com/fileshare/apiserver/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	channel string
	data    []byte
	attrs   map[string]string
	err     error
}

func (q *fakeQueue) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.channel = channel
	q.data = data
	q.attrs = attrs
	return "id-1", nil
}

func (q *fakeQueue) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	if err := handler(ctx, mq.Message{ID: "id-1", Data: q.data, Attributes: q.attrs}); err != nil {
		return err
	}
	return context.Canceled
}

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestNew_SelectsTransport(t *testing.T) {
	logger := discardLogger()

	m, err := New(config.MailConfig{}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	m, err = New(config.MailConfig{Transport: "smtp"}, nil, logger)
	require.NoError(t, err)
	smtpMailer, ok := m.(*SMTPMailer)
	require.True(t, ok)
	assert.False(t, smtpMailer.Enabled())
	require.NoError(t, smtpMailer.Send(context.Background(), Message{To: "a@example.com"}))

	m, err = New(config.MailConfig{Transport: "queue", Queue: "fileshare.email"}, &fakeQueue{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &QueueMailer{}, m)

	_, err = New(config.MailConfig{Transport: "queue"}, nil, logger)
	require.Error(t, err)

	_, err = New(config.MailConfig{Transport: "pigeon"}, nil, logger)
	require.Error(t, err)
}

func TestSMTPMailer_AddressesRecipientInToHeader(t *testing.T) {
	m := &SMTPMailer{mailName: "File Sharing", mailAddress: "noreply@files.test"}

	email := m.message(VerificationMessage("client@example.com", "client", "http://files.test/verify-email/abc"))

	assert.Equal(t, []string{"client@example.com"}, email.Recipients())
	assert.Contains(t, string(email.Body()), "To: client@example.com\n")
	assert.Equal(t, "noreply@files.test", email.From())
	assert.Equal(t, "File Sharing", email.Name())
}

func TestLogMailer_WritesMessage(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewTextHandler(&buf, nil)))

	msg := VerificationMessage("client@example.com", "client", "http://localhost:8080/verify-email/abc")
	require.NoError(t, m.Send(context.Background(), msg))

	out := buf.String()
	assert.Contains(t, out, "to=client@example.com")
	assert.Contains(t, out, "verify-email/abc")
}

func TestQueueMailer_PublishesJSON(t *testing.T) {
	queue := &fakeQueue{}
	m := NewQueueMailer(queue, "fileshare.email")

	msg := Message{To: "client@example.com", Subject: "Verify your email", Body: "link"}
	require.NoError(t, m.Send(context.Background(), msg))

	assert.Equal(t, "fileshare.email", queue.channel)
	assert.Equal(t, contentTypeJSON, queue.attrs[mq.ContentTypeAttr])

	var decoded Message
	require.NoError(t, json.Unmarshal(queue.data, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestQueueMailer_PublishError(t *testing.T) {
	m := NewQueueMailer(&fakeQueue{err: errors.New("broker down")}, "fileshare.email")
	require.Error(t, m.Send(context.Background(), Message{To: "x@example.com"}))
}

func TestWorker_DeliversQueuedMessage(t *testing.T) {
	queue := &fakeQueue{}
	msg := Message{To: "client@example.com", Subject: "Verify your email", Body: "link"}
	require.NoError(t, NewQueueMailer(queue, "fileshare.email").Send(context.Background(), msg))

	delivery := &recordingMailer{}
	worker := NewWorker(queue, "fileshare.email", delivery, discardLogger())

	require.NoError(t, worker.Run(context.Background()))
	require.Len(t, delivery.sent, 1)
	assert.Equal(t, msg, delivery.sent[0])
}

func TestWorker_HandleMalformedIsAcked(t *testing.T) {
	delivery := &recordingMailer{}
	worker := NewWorker(&fakeQueue{}, "fileshare.email", delivery, discardLogger())

	require.NoError(t, worker.Handle(context.Background(), mq.Message{ID: "x", Data: []byte("{not json")}))
	require.NoError(t, worker.Handle(context.Background(), mq.Message{ID: "y", Data: []byte(`{"subject":"no recipient"}`)}))
	assert.Empty(t, delivery.sent)
}

func TestWorker_HandleDeliveryErrorIsRetried(t *testing.T) {
	delivery := &recordingMailer{err: errors.New("smtp unavailable")}
	worker := NewWorker(&fakeQueue{}, "fileshare.email", delivery, discardLogger())

	err := worker.Handle(context.Background(), mq.Message{ID: "x", Data: []byte(`{"to":"a@example.com"}`)})
	require.Error(t, err)
}

func TestVerificationMessage(t *testing.T) {
	msg := VerificationMessage("client@example.com", "client", "http://host/verify-email/t")
	assert.Equal(t, "client@example.com", msg.To)
	assert.Equal(t, "Verify your email", msg.Subject)
	assert.Contains(t, msg.Body, "http://host/verify-email/t")
	assert.Contains(t, msg.Body, "Hi client")
}
