package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher пишет события в топик. Ключ - id ограничения,
// поэтому события одного id попадают в одну партицию и не переставляются.
type KafkaPublisher struct {
	producer kafkaProducer
	topic    string
	close    func()
}

// NewKafkaPublisher создаёт franz-go клиента.
// deliveryTimeout > 0 ограничивает жизнь записи в буфере клиента, иначе ждём без срока.
func NewKafkaPublisher(brokers []string, topic string, deliveryTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if deliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(deliveryTimeout))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	return &KafkaPublisher{producer: client, topic: topic, close: client.Close}, nil
}

func newKafkaPublisher(p kafkaProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, close: func() {}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt eventlog.RecordedEvent) error {
	env, err := eventlog.ToEnvelope(evt)
	if err != nil {
		return &PublishError{Sink: "kafka", ConstraintID: evt.ConstraintID, Version: evt.Version, Cause: err}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return &PublishError{Sink: "kafka", ConstraintID: evt.ConstraintID, Version: evt.Version, Cause: err}
	}

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(evt.ConstraintID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(env.Type)},
			{Key: "event-id", Value: []byte(evt.EventID)},
		},
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return &PublishError{Sink: "kafka", ConstraintID: evt.ConstraintID, Version: evt.Version, Cause: err}
	}
	return nil
}

// Close дожидается отправки буфера и закрывает клиента.
func (p *KafkaPublisher) Close() {
	p.close()
}
