package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaRelay mirrors every user push onto a Kafka topic so external
// consumers (mobile push fan-out, audit pipelines) can react to AI
// events without coupling to the process.
type KafkaRelay struct {
	writer *kafka.Writer
}

// NewKafkaRelay creates a relay producing to the given topic.
func NewKafkaRelay(brokers, topic string) *KafkaRelay {
	return &KafkaRelay{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// PushToUser publishes the notification keyed by user so one user's
// events stay ordered within a partition. Failures are logged; the
// relay is a mirror, not the delivery path.
func (r *KafkaRelay) PushToUser(userID, event string, payload any) {
	n := Notification{UserID: userID, Event: event, Payload: payload, Timestamp: time.Now()}
	value, err := json.Marshal(n)
	if err != nil {
		slog.Warn("Kafka relay marshal failed", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(userID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
		Time:    n.Timestamp,
	})
	if err != nil {
		slog.Warn("Kafka relay write failed", "event", event, "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (r *KafkaRelay) Close() error {
	return r.writer.Close()
}
