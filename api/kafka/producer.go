package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"audioTranscriber/api/events"
)

// EventProducer publishes task lifecycle events keyed by task id, so all
// events of one task land on the same partition in order.
type EventProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	return config
}

func NewEventProducer(brokers []string, topic string) (*EventProducer, error) {
	p, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, err
	}
	return NewEventProducerWith(p, topic), nil
}

func NewEventProducerWith(p sarama.SyncProducer, topic string) *EventProducer {
	return &EventProducer{producer: p, topic: topic}
}

func (p *EventProducer) Publish(ctx context.Context, event events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.TaskID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("status"), Value: []byte(event.Status)},
		},
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *EventProducer) Close() error {
	return p.producer.Close()
}
