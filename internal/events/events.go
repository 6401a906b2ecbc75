package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"insightxr/internal/asset"
)

// StageChanged is the type of every event published for an asset update.
const StageChanged = "asset.stage_changed"

// Event is the message published after each orchestrator state change.
type Event struct {
	Type  string         `json:"type"`
	Op    string         `json:"op"`
	Asset asset.Snapshot `json:"asset"`
}

// Publisher delivers asset events to observers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

const writeBatchTimeout = 10 * time.Millisecond

// Kafka publishes events as JSON keyed by asset owner so that one user's
// updates stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: writeBatchTimeout,
	})}
}

func (k *Kafka) Publish(ctx context.Context, evt Event) error {
	msg, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close() //nolint:wrapcheck
}

// Encode turns evt into a kafka message.
func Encode(evt Event) (kafka.Message, error) {
	if evt.Type == "" {
		evt.Type = StageChanged
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	key := evt.Asset.Owner
	if key == "" {
		key = evt.Asset.ID
	}
	return kafka.Message{Key: []byte(key), Value: payload}, nil
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
