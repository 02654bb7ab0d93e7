package kafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"donor-finder/internal/events"
	"donor-finder/internal/metrics"
)

// RequestEventPublisher publishes request events to a topic, keyed by request id.
type RequestEventPublisher struct {
	producer MessageProducer
	topic    string
	metrics  *metrics.Metrics
}

// NewRequestEventPublisher wraps producer as an events.Publisher.
func NewRequestEventPublisher(producer MessageProducer, topic string, m *metrics.Metrics) *RequestEventPublisher {
	return &RequestEventPublisher{producer: producer, topic: topic, metrics: m}
}

func (p *RequestEventPublisher) Publish(ctx context.Context, event events.RequestEvent) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode request event %d: %w", event.RequestID, err)
	}
	if err := p.producer.SendMessage(ctx, p.topic, event.Key(), payload); err != nil {
		return err
	}
	p.metrics.IncEventPublished(string(event.Kind))
	return nil
}

func (p *RequestEventPublisher) Close() {
	p.producer.Close()
}

// RequestEventConsumerLogic turns consumed messages into handler calls.
type RequestEventConsumerLogic struct {
	handler events.Handler
	retry   events.RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRequestEventConsumerLogic creates the consumer-side adapter.
func NewRequestEventConsumerLogic(handler events.Handler, retry events.RetryPolicy, logger *zap.Logger, m *metrics.Metrics) *RequestEventConsumerLogic {
	return &RequestEventConsumerLogic{handler: handler, retry: retry, logger: logger, metrics: m}
}

// Handle is the MessageHandler passed to the consumer. Undecodable payloads are
// skipped (committed); handler failures are retried and then sent back to the
// consumer, which seeks to the message and delivers it again.
func (l *RequestEventConsumerLogic) Handle(ctx context.Context, msg *kafka.Message) error {
	event, err := events.DecodeRequestEvent(msg.Value)
	if err != nil {
		l.logger.Warn("skipping malformed request event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}
	return l.dispatch(ctx, event)
}

func (l *RequestEventConsumerLogic) dispatch(ctx context.Context, event events.RequestEvent) error {
	err := l.retry.Run(ctx, func(ctx context.Context) error {
		return l.handler(ctx, event)
	})
	if err != nil {
		l.metrics.IncEventFailed(string(event.Kind))
		return fmt.Errorf("request event %s: %w", event.DedupKey(), err)
	}
	return nil
}
