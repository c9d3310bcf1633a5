package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"keepalive-service/internal/models"
)

// MessageProducer is the subset of client.KafkaProducer the sink uses.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes heartbeat events keyed by record id.
type KafkaSink struct {
	producer MessageProducer
	topic    string
}

func NewKafkaSink(producer MessageProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, event models.HeartbeatEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode heartbeat event: %w", err)
	}
	headers := map[string]string{
		"kind":   event.Kind,
		"source": event.Source,
	}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(event.ID), value, headers)
}
