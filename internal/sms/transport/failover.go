package transport

import (
	"context"
	"log/slog"

	"commonvote/pkg/phone"
	"commonvote/pkg/platform/circuit"
)

// Sender is a named outbound transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, to phone.Number, body string) error
}

// Metrics records one result per attempt and transport.
type Metrics interface {
	IncOutboundSMS(transport, result string)
}

// FailoverSender always tries the primary transport. Once the breaker opens,
// failed messages are also handed to the fallback so their content is kept;
// the primary error is still returned because the recipient got nothing.
type FailoverSender struct {
	primary  Sender
	fallback Sender
	breaker  *circuit.Breaker
	metrics  Metrics
	logger   *slog.Logger
}

func NewFailover(primary, fallback Sender, breaker *circuit.Breaker, metrics Metrics, logger *slog.Logger) *FailoverSender {
	return &FailoverSender{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		metrics:  metrics,
		logger:   logger,
	}
}

func (f *FailoverSender) Name() string { return f.primary.Name() }

func (f *FailoverSender) Send(ctx context.Context, to phone.Number, body string) error {
	err := f.primary.Send(ctx, to, body)
	if err == nil {
		f.record(f.primary.Name(), "sent")
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "sms carrier recovered", "breaker", f.breaker.Name())
		}
		return nil
	}

	f.record(f.primary.Name(), "failed")
	useFallback, change := f.breaker.RecordFailure()
	if change.Opened {
		f.logger.WarnContext(ctx, "sms carrier failing, using fallback", "breaker", f.breaker.Name(), "error", err)
	}
	if useFallback {
		if fbErr := f.fallback.Send(ctx, to, body); fbErr != nil {
			f.logger.ErrorContext(ctx, "sms fallback failed", "error", fbErr)
		}
		f.record(f.fallback.Name(), "fallback")
	}
	return err
}

func (f *FailoverSender) record(transport, result string) {
	if f.metrics != nil {
		f.metrics.IncOutboundSMS(transport, result)
	}
}
