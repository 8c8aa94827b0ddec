package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"commonvote/internal/sms/models"
	"commonvote/internal/sms/queue/mocks"
	"commonvote/pkg/phone"
)

//go:generate mockgen -source=consumer.go -destination=mocks/consumer-mocks.go -package=mocks Coordinator,Sender
//go:generate mockgen -source=publisher.go -destination=mocks/publisher-mocks.go -package=mocks Broker

type QueueSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	coordinator *mocks.MockCoordinator
	sender      *mocks.MockSender
	broker      *mocks.MockBroker
	consumer    *Consumer
	msg         models.InboundMessage
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.T().Cleanup(s.ctrl.Finish)
	s.coordinator = mocks.NewMockCoordinator(s.ctrl)
	s.sender = mocks.NewMockSender(s.ctrl)
	s.broker = mocks.NewMockBroker(s.ctrl)

	var err error
	s.consumer, err = NewConsumer(s.coordinator, s.sender, slog.New(slog.NewTextHandler(io.Discard, nil)), WithWorkers(2))
	s.Require().NoError(err)

	s.msg = models.InboundMessage{
		From:       "+15550000001",
		Body:       "YES001",
		MessageSID: "SM1",
		ReceivedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *QueueSuite) encode(msg models.InboundMessage) []byte {
	data, err := json.Marshal(msg)
	s.Require().NoError(err)
	return data
}

func (s *QueueSuite) TestNewConsumer() {
	_, err := NewConsumer(nil, s.sender, nil)
	s.ErrorContains(err, "coordinator is required")

	_, err = NewConsumer(s.coordinator, nil, nil)
	s.ErrorContains(err, "sender is required")

	c, err := NewConsumer(s.coordinator, s.sender, nil, WithWorkers(0))
	s.Require().NoError(err)
	s.Equal(4, c.workers)
}

func (s *QueueSuite) TestPublisherEncodesMessage() {
	ctx := context.Background()
	s.broker.EXPECT().Publish(ctx, "sms.inbound", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data []byte) error {
			var got models.InboundMessage
			s.Require().NoError(json.Unmarshal(data, &got))
			s.Equal(s.msg, got)
			return nil
		})

	s.NoError(NewPublisher(s.broker, "sms.inbound").Enqueue(ctx, s.msg))
}

func (s *QueueSuite) TestPublisherPropagatesBrokerError() {
	s.broker.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("nats: no servers available"))

	err := NewPublisher(s.broker, "sms.inbound").Enqueue(context.Background(), s.msg)
	s.ErrorContains(err, "no servers available")
}

func (s *QueueSuite) TestHandleRepliesToSender() {
	ctx := context.Background()
	s.coordinator.EXPECT().HandleInbound(ctx, s.msg).
		Return(models.Reply{Kind: models.ReplyAccepted, Text: "Vote recorded"})
	s.sender.EXPECT().Send(ctx, phone.Number("+15550000001"), "Vote recorded").Return(nil)

	s.consumer.Handle(ctx, s.encode(s.msg))
}

func (s *QueueSuite) TestHandleNormalizesNationalNumbers() {
	ctx := context.Background()
	s.msg.From = "(555) 000-0001"
	s.coordinator.EXPECT().HandleInbound(ctx, s.msg).
		Return(models.Reply{Kind: models.ReplyUnknownSender, Text: "Phone number not registered."})
	s.sender.EXPECT().Send(ctx, phone.Number("+15550000001"), gomock.Any()).Return(nil)

	s.consumer.Handle(ctx, s.encode(s.msg))
}

func (s *QueueSuite) TestHandleDropsMalformedPayload() {
	s.consumer.Handle(context.Background(), []byte("{not json"))
}

func (s *QueueSuite) TestHandleSkipsUnreachableSender() {
	s.msg.From = "garbage"
	s.coordinator.EXPECT().HandleInbound(gomock.Any(), gomock.Any()).
		Return(models.Reply{Kind: models.ReplyUnknownSender, Text: "Phone number not registered."})

	s.consumer.Handle(context.Background(), s.encode(s.msg))
}

func (s *QueueSuite) TestHandleSurvivesSendFailure() {
	s.coordinator.EXPECT().HandleInbound(gomock.Any(), gomock.Any()).
		Return(models.Reply{Kind: models.ReplyDuplicate, Text: "You already voted YES on proposal 001"})
	s.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("twilio: 503"))

	s.consumer.Handle(context.Background(), s.encode(s.msg))
}
