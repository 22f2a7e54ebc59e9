package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fileshare/apiserver/internal/mq"
)

const contentTypeJSON = "application/json"

// QueueMailer publishes messages as JSON onto a queue for the worker.
type QueueMailer struct {
	publisher Publisher
	queue     string
}

func NewQueueMailer(publisher Publisher, queue string) *QueueMailer {
	return &QueueMailer{publisher: publisher, queue: queue}
}

func (m *QueueMailer) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := m.publisher.Publish(ctx, m.queue, data, map[string]string{mq.ContentTypeAttr: contentTypeJSON}); err != nil {
		return fmt.Errorf("publish email: %w", err)
	}
	return nil
}

// Subscriber is the subset of the message queue used by the worker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Worker drains the email queue and hands each message to a delivering
// Mailer, normally an SMTPMailer.
type Worker struct {
	subscriber Subscriber
	queue      string
	delivery   Mailer
	logger     *slog.Logger
}

func NewWorker(subscriber Subscriber, queue string, delivery Mailer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		subscriber: subscriber,
		queue:      queue,
		delivery:   delivery,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("mailer worker started", "queue", w.queue)
	err := w.subscriber.Subscribe(ctx, w.queue, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle delivers one queued message. Undecodable payloads are logged and
// acknowledged so they are not redelivered forever.
func (w *Worker) Handle(ctx context.Context, m mq.Message) error {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil || msg.To == "" {
		w.logger.Error("dropping malformed email message", "id", m.ID, "error", err)
		return nil
	}
	if err := w.delivery.Send(ctx, msg); err != nil {
		w.logger.Error("deliver email", "id", m.ID, "to", msg.To, "error", err)
		return err
	}
	w.logger.Info("email delivered", "id", m.ID, "to", msg.To)
	return nil
}
