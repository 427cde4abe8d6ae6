package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by the sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards ledger events from the bus to a Kafka topic.
type KafkaSink struct {
	writer MessageWriter
	logger *zap.Logger
	buffer int
}

// NewKafkaSink builds a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	return NewKafkaSinkWithWriter(w, logger)
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, logger: logger, buffer: 256}
}

// Run consumes every ledger topic until ctx is done. Messages are keyed by customer
// so one customer's events keep their order within a partition.
func (s *KafkaSink) Run(ctx context.Context, bus *Bus) {
	stream, unsub := bus.SubscribeAll(LedgerTopics, s.buffer)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				ev, ok := msg.(LedgerEvent)
				if !ok {
					continue
				}
				if err := s.Forward(ctx, ev); err != nil {
					s.logger.Warn("kafka forward failed",
						zap.String("topic", string(ev.Topic)),
						zap.String("order_id", ev.OrderID),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

// Forward writes one event.
func (s *KafkaSink) Forward(ctx context.Context, ev LedgerEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Customer),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Topic)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
