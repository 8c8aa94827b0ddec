package transport

import (
	"context"
	"log/slog"

	"commonvote/pkg/phone"
)

// LogSender writes messages to the log instead of a carrier. It is used when
// no carrier credentials are configured and as the failover target.
type LogSender struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("transport", "log")}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(ctx context.Context, to phone.Number, body string) error {
	l.logger.InfoContext(ctx, "sms not sent to a carrier",
		"phone", phone.Mask(to),
		"body", body,
	)
	return nil
}
