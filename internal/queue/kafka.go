// Package queue publishes the audit trail to Kafka for downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"pricetracker/internal/products"
)

// ChangePublisher writes change records to a topic, keyed by product id so
// all changes of one product land on the same partition in order.
type ChangePublisher struct {
	writer *kafka.Writer
}

func NewChangePublisher(brokers []string, topic string) *ChangePublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &ChangePublisher{writer: writer}
}

func (p *ChangePublisher) PublishChange(ctx context.Context, rec *products.ChangeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(rec.ProductID)),
		Value: data,
		Time:  rec.ProcessedAt,
	})
}

func (p *ChangePublisher) Close() error {
	return p.writer.Close()
}
