// Package queue moves inbound SMS through NATS so the webhook can answer
// before the vote is recorded.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"commonvote/internal/sms/models"
)

// Broker is the publish side of the NATS client.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publisher enqueues inbound messages on a NATS subject.
type Publisher struct {
	broker  Broker
	subject string
}

func NewPublisher(broker Broker, subject string) *Publisher {
	return &Publisher{broker: broker, subject: subject}
}

func (p *Publisher) Enqueue(ctx context.Context, msg models.InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode inbound sms: %w", err)
	}
	return p.broker.Publish(ctx, p.subject, data)
}
