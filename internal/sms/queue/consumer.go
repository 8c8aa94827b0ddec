package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"commonvote/internal/sms/models"
	"commonvote/pkg/phone"
)

type Coordinator interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) models.Reply
}

type Sender interface {
	Send(ctx context.Context, to phone.Number, body string) error
}

// Consumer drains the inbound subject and sends each reply through the
// outbound transport.
type Consumer struct {
	coordinator        Coordinator
	sender             Sender
	logger             *slog.Logger
	defaultCountryCode string
	workers            int
}

type Option func(*Consumer)

func WithWorkers(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithDefaultCountryCode(code string) Option {
	return func(c *Consumer) {
		c.defaultCountryCode = code
	}
}

func NewConsumer(coordinator Coordinator, sender Sender, logger *slog.Logger, opts ...Option) (*Consumer, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		coordinator:        coordinator,
		sender:             sender,
		logger:             logger,
		defaultCountryCode: "1",
		workers:            4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run subscribes to subject in queue group and processes messages with the
// configured number of workers until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, conn *nats.Conn, subject, queueGroup string) error {
	msgs := make(chan *nats.Msg, c.workers*16)
	sub, err := conn.ChanQueueSubscribe(subject, queueGroup, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.InfoContext(ctx, "inbound sms consumer started",
		"subject", subject,
		"queue_group", queueGroup,
		"workers", c.workers,
	)

	var wg sync.WaitGroup
	for range c.workers {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					c.Handle(ctx, msg.Data)
				}
			}
		})
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		c.logger.Warn("inbound sms unsubscribe failed", "error", err)
	}
	wg.Wait()
	c.logger.Info("inbound sms consumer stopped", "subject", subject)
	return nil
}

// Handle processes one queued message. Malformed payloads are dropped.
func (c *Consumer) Handle(ctx context.Context, data []byte) {
	var msg models.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode queued sms", "error", err, "data_len", len(data))
		return
	}

	reply := c.coordinator.HandleInbound(ctx, msg)
	if reply.Text == "" {
		return
	}

	to, err := phone.Normalize(msg.From, c.defaultCountryCode)
	if err != nil {
		c.logger.WarnContext(ctx, "cannot reply to sender",
			"message_sid", msg.MessageSID,
			"kind", reply.Kind,
			"error", err,
		)
		return
	}
	if err := c.sender.Send(ctx, to, reply.Text); err != nil {
		c.logger.ErrorContext(ctx, "failed to send sms reply",
			"to", phone.Mask(to),
			"message_sid", msg.MessageSID,
			"kind", reply.Kind,
			"error", err,
		)
	}
}
