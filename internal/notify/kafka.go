package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes messages to a Kafka topic consumed by the delivery
// workers. Messages are keyed by user id so one user's notifications stay in
// order on a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaNotifier returns a notifier writing to topic, or nil when brokers or
// topic are empty. Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

// Send serializes msg as JSON and writes it to the topic.
func (p *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.WriteMessages(ctx, encode(msg))
}

// Close closes the Kafka writer. Safe on a nil notifier.
func (p *KafkaNotifier) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encode(msg Message) kafka.Message {
	payload, _ := json.Marshal(msg)
	return kafka.Message{
		Key:   []byte(msg.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
		Time: msg.CreatedAt,
	}
}

func decode(m kafka.Message) (Message, error) {
	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return Message{}, fmt.Errorf("notify: decode offset %d: %w", m.Offset, err)
	}
	return msg, nil
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads notifications published by KafkaNotifier and hands each one
// to a delivery Notifier. Offsets are committed after the handoff whether or
// not delivery succeeded; a failed delivery is logged and dropped.
type Consumer struct {
	reader  messageReader
	deliver Notifier
	log     zerolog.Logger
}

// NewConsumer returns a consumer in groupID reading topic.
func NewConsumer(brokers []string, topic, groupID string, deliver Notifier, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		}),
		deliver: deliver,
		log:     log,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("notify: kafka read failed")
			continue
		}
		msg, err := decode(m)
		if err != nil {
			c.log.Warn().Err(err).Msg("notify: skipping malformed message")
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		if err := c.deliver.Send(sendCtx, msg); err != nil {
			c.log.Warn().Err(err).
				Str("notification_id", msg.ID).
				Str("kind", string(msg.Kind)).
				Msg("notify: delivery failed")
		}
		cancel()
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
