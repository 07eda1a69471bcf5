// Package tail forwards records that reached the active segment (on a
// flush, or on a write that drained or bypassed the write buffer) to a
// downstream consumer over Kafka. It is a one-way observer: forwarding
// never participates in a write's or flush's success/failure, and it runs
// after the engine's lock is released so it never holds up other writers.
// The Write or Flush call that triggered it waits for Forward to return.
package tail

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/segmentio/kafka-go"
)

// Forwarder publishes a committed byte range (one or more whole frames)
// for a downstream consumer to tail. segmentID/offset identify where the
// range starts on disk, purely as metadata for the consumer; the
// Forwarder has no say over what the engine does with its own files.
type Forwarder interface {
	Forward(ctx context.Context, segmentID uint64, offset int64, frame []byte) error
	Close() error
}

type noop struct{}

// NoOp is the engine's default Forwarder: every call is discarded.
var NoOp Forwarder = noop{}

func (noop) Forward(context.Context, uint64, int64, []byte) error { return nil }
func (noop) Close() error                                         { return nil }

// KafkaForwarder publishes every forwarded byte range as one Kafka
// message, keyed by segment id so a downstream consumer can partition by
// segment.
type KafkaForwarder struct {
	writer *kafka.Writer
}

// NewKafkaForwarder constructs a Forwarder that publishes to topic on
// the given brokers. Writes are synchronous from the forwarder's
// perspective (WriteMessages blocks until acknowledged) but are always
// invoked outside the engine's lock, so this cannot stall other writers;
// only the Write or Flush call that triggered the forward waits on it.
func NewKafkaForwarder(brokers []string, topic string) *KafkaForwarder {
	return &KafkaForwarder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (f *KafkaForwarder) Forward(ctx context.Context, segmentID uint64, offset int64, frame []byte) error {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, segmentID)

	value := make([]byte, len(frame))
	copy(value, frame)

	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
}

func (f *KafkaForwarder) Close() error { return f.writer.Close() }
