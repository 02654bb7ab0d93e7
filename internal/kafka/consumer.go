package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"donor-finder/internal/config"
)

// MessageHandler processes one consumed message. A nil return commits its offset;
// an error redelivers the same message.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer   *kafka.Consumer
	cfg        config.KafkaConfig
	groupID    string
	retryPause time.Duration
	logger     *zap.Logger
}

// NewConfluentKafkaConsumer prepares a consumer; the connection is opened by Consume.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, logger *zap.Logger) MessageConsumer {
	return &confluentKafkaConsumer{cfg: cfg, retryPause: time.Second, logger: logger}
}

// Consume blocks, polling topics until ctx is canceled or a fatal error occurs.
// Offsets are committed only after handler succeeds.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.cfg.Brokers, ","),
		"group.id":           c.groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": "false",
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log := c.logger.With(zap.String("group", groupID))
	log.Info("Kafka consumer started", zap.Strings("topics", topics))
	return pollLoop(ctx, c.consumer, handler, c.retryPause, log)
}

// pollingClient is the subset of *kafka.Consumer the poll loop drives.
type pollingClient interface {
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
	Assign(partitions []kafka.TopicPartition) error
	Unassign() error
}

// pollLoop hands each message to handler and commits it on success. A failed
// message is sought back to, so later offsets on its partition are never
// committed past it and it is delivered again after pause.
func pollLoop(ctx context.Context, client pollingClient, handler MessageHandler, pause time.Duration, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("Context canceled, consumer loop finished")
			return nil
		default:
		}

		ev := client.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Error("Error processing Kafka message, seeking back",
					zap.String("topic", *e.TopicPartition.Topic),
					zap.String("offset", e.TopicPartition.Offset.String()),
					zap.Error(err))
				if serr := client.Seek(e.TopicPartition, 0); serr != nil {
					return fmt.Errorf("seek back to failed offset %s: %w", e.TopicPartition.Offset, serr)
				}
				select {
				case <-ctx.Done():
				case <-time.After(pause):
				}
				continue
			}
			if _, err := client.CommitMessage(e); err != nil {
				log.Warn("Failed to commit offset",
					zap.String("topic", *e.TopicPartition.Topic),
					zap.String("offset", e.TopicPartition.Offset.String()),
					zap.Error(err))
			}
		case kafka.Error:
			log.Error("Kafka consumer error", zap.Error(e), zap.Bool("fatal", e.IsFatal()))
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Info("Partitions assigned", zap.Int("count", len(e.Partitions)))
			_ = client.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("Partitions revoked", zap.Int("count", len(e.Partitions)))
			_ = client.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.logger.Error("Error closing Kafka consumer", zap.String("group", c.groupID), zap.Error(err))
	} else {
		c.logger.Info("Kafka consumer closed", zap.String("group", c.groupID))
	}
	c.consumer = nil
}
