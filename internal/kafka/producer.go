package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type Producer struct {
	w *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{w: &kafkago.Writer{
		Addr:     kafkago.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafkago.Hash{}, // keep a channel on one partition
	}}
}

// Publish writes one envelope keyed by its channel.
func (p *Producer) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(env.Channel),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error { return p.w.Close() }
