package kafkapub

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"estate_reviews/internal/domain"
)

// Publisher emits review mutation events, keyed by agent id so events for
// one agent stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

func New(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}}
}

func (p *Publisher) PublishReviewEvent(ctx context.Context, ev domain.ReviewEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.AgentID, 10)),
		Value: payload,
	})
}

func (p *Publisher) Close() error { return p.writer.Close() }
