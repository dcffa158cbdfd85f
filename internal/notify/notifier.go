// Package notify delivers outbound messages such as purchase order emails
// to suppliers. Delivery failures never roll back the business operation
// that triggered them.
package notify

import (
	"context"
	"log/slog"
)

type Notifier interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(_ context.Context, to string, subject string, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", slog.String("to", to), slog.String("subject", subject), slog.Int("body_bytes", len(body)))
	return nil
}
