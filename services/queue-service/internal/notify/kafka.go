package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/barberqueue/libs/kafkax"
)

const TopicNotifications = "queue.notification.v1"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaTransport publishes notifications keyed by appointment so a room's
// messages for one customer stay ordered.
type KafkaTransport struct {
	writer messageWriter
}

func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	if topic == "" {
		topic = TopicNotifications
	}
	return &KafkaTransport{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (k *KafkaTransport) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(n.Tag)},
		{Key: "event_type", Value: []byte("queue." + string(n.Kind))},
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(n.AppointmentID),
		Value:   payload,
		Headers: kafkax.InjectTraceHeaders(ctx, headers),
		Time:    n.EmittedAt,
	})
}

func (k *KafkaTransport) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
