package broadcast

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/hubctl/internal/errors"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka appends every event to a topic, keyed by event name so each kind
// stays ordered within its partition.
type Kafka struct {
	writer MessageWriter
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Name),
		Value: payload,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	return nil
}
