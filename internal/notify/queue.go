package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"

	// TaskTypeSendEmail is the task type for outbound mail.
	TaskTypeSendEmail = "mail:send"
)

type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewSendEmailTask(payload EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands messages to the worker process. A message is
// attempted once; a failed send is logged by the worker and dropped.
type QueueNotifier struct {
	client enqueuer
	closer func() error
}

func NewQueueNotifier(redisOpts asynq.RedisClientOpt) *QueueNotifier {
	client := asynq.NewClient(redisOpts)
	return &QueueNotifier{client: client, closer: client.Close}
}

func (n *QueueNotifier) Send(ctx context.Context, to string, subject string, body string) error {
	task, err := NewSendEmailTask(EmailPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

func (n *QueueNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

// NewEmailTaskHandler delivers queued mail through sender.
func NewEmailTaskHandler(sender Notifier, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload EmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := sender.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			logger.Warn("email delivery failed", slog.String("to", payload.To), slog.String("subject", payload.Subject), slog.Any("error", err))
			return err
		}
		return nil
	}
}
