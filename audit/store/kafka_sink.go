package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every execution record to a topic, keyed by action id
// so that one action's records stay ordered within a partition
type KafkaSink struct {
	writer messageWriter
}

var _ interfaces.RecordSink = (*KafkaSink)(nil)

// NewKafkaSink creates a synchronous producer requiring all replicas to ack
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Append publishes one record
func (k *KafkaSink) Append(ctx context.Context, record *types.ExecutionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode execution record: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.ActionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(record.Status)},
			{Key: "sequence", Value: []byte(strconv.FormatUint(record.Sequence, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish execution record %d: %w", record.Sequence, err)
	}
	return nil
}

// Close flushes and closes the producer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
