package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Envelope event kinds on the inbound topic.
const (
	KindChat         = "chat"
	KindDeviceResult = "device_result"
	KindBotMessage   = "bot_message"
)

// Envelope is the wire format of an inbound event.
type Envelope struct {
	Kind       string `json:"kind"`
	UserID     string `json:"userId"`
	ConverseID string `json:"converseId,omitempty"`

	// chat
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content,omitempty"`

	// device_result
	CommandID string `json:"commandId,omitempty"`
	Output    string `json:"output,omitempty"`
	ExitCode  int    `json:"exitCode,omitempty"`

	// bot_message
	FromBotID string   `json:"fromBotId,omitempty"`
	ToBotID   string   `json:"toBotId,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	CallChain []string `json:"callChain,omitempty"`
}

// KafkaIngest reads inbound event envelopes from a Kafka topic and
// submits them to the loop.
type KafkaIngest struct {
	reader *kafka.Reader
	loop   *Loop
}

// NewKafkaIngest creates an ingest reader. Brokers is a comma-separated
// list.
func NewKafkaIngest(brokers, topic, group string, loop *Loop) *KafkaIngest {
	return &KafkaIngest{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  strings.Split(brokers, ","),
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		loop: loop,
	}
}

// Run consumes until the context is cancelled.
func (k *KafkaIngest) Run(ctx context.Context) error {
	slog.Info("Kafka ingest started", "topic", k.reader.Config().Topic)
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka ingest stopped")
				return ctx.Err()
			}
			slog.Warn("Kafka ingest read error", "error", err)
			continue
		}
		k.handle(msg.Value)
	}
}

func (k *KafkaIngest) handle(value []byte) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		slog.Warn("Kafka ingest: malformed envelope, skipping", "error", err)
		return
	}
	switch env.Kind {
	case KindChat:
		k.loop.SubmitChat(ChatEvent{
			UserID:     env.UserID,
			ConverseID: env.ConverseID,
			MessageID:  env.MessageID,
			Content:    env.Content,
		})
	case KindDeviceResult:
		k.loop.SubmitDeviceResult(DeviceEvent{
			UserID:     env.UserID,
			ConverseID: env.ConverseID,
			CommandID:  env.CommandID,
			Output:     env.Output,
			ExitCode:   env.ExitCode,
		})
	case KindBotMessage:
		k.loop.SubmitBotMessage(BotEvent{
			FromBotID: env.FromBotID,
			ToBotID:   env.ToBotID,
			UserID:    env.UserID,
			Content:   env.Content,
			Reason:    env.Reason,
			CallChain: env.CallChain,
		})
	default:
		slog.Warn("Kafka ingest: unknown event kind, skipping", "kind", env.Kind)
	}
}

// Close releases the underlying reader.
func (k *KafkaIngest) Close() error {
	return k.reader.Close()
}
