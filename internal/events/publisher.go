// Package events delivers workflow events to Kafka through a transactional
// outbox. Stores append outbox rows inside their business transaction; the
// relay drains them asynchronously, so a broker outage never blocks an
// approval decision.
package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher sends serialized events to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close()
}

// KafkaPublisher is the franz-go backed Publisher.
type KafkaPublisher struct {
	client *kgo.Client
}

func NewKafkaPublisher(brokers []string, clientID string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client}, nil
}

// Publish produces synchronously. The relay deletes an outbox row only after
// this returns nil, so delivery is at-least-once.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, payload []byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
