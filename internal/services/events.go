package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"meauxbility_api/internal/donations"
)

// MessageWriter is the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publishes ledger transitions keyed by attempt id, so all
// changes of one attempt land on one partition in order.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter builds the writer for the state-change topic
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishStateChange(ctx context.Context, change donations.StateChange) error {
	value, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.AttemptID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("donation.state.changed")},
		},
	})
}
