// Package stream forwards relayed domain events to a Kafka topic for
// consumers outside the relay process.
package stream

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Writer struct {
	w *kafka.Writer
}

func NewWriter(brokers []string, topic string) *Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &Writer{w: w}
}

func (w *Writer) Close() error { return w.w.Close() }

// Emit hashes on the room key so events of one room stay on one partition.
func (w *Writer) Emit(ctx context.Context, key string, value []byte) error {
	return w.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}
