package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

const (
	DefaultTopic = "stockgrid.items"
	SnapshotKey  = "snapshot"
)

// KafkaPublisher produces every snapshot to a single topic with a fixed key,
// so compacted topics keep only the latest state.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic, now: time.Now}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, items []domain.Item) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("kafka publisher is closed")
	}

	body, err := encodeSnapshot(items, p.now())
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(SnapshotKey),
		Value: body,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce snapshot: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.client.Close()
	return nil
}
