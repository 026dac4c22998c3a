package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
	log    logrus.FieldLogger
}

func NewKafkaProducer(brokers []string, topic string, log logrus.FieldLogger) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
		log:   log,
	}
}

// Publish keys messages by booking so one booking's events stay ordered
// within a partition.
func (p *KafkaProducer) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.BookingID),
		Value: data,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write event to kafka: %w", err)
	}
	p.log.WithFields(logrus.Fields{"topic": p.topic, "booking_id": ev.BookingID, "event_type": ev.Type}).Debug("event published")
	return nil
}

func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, groupID, topic string) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
	}
}

func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume decodes each message and hands it to handler until ctx is done or
// the handler fails.
func (c *KafkaConsumer) Consume(ctx context.Context, handler func(context.Context, Event) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		ev, err := Decode(msg.Value)
		if err != nil {
			// poison message; skip it rather than block the partition
			continue
		}
		if err := handler(ctx, ev); err != nil {
			return err
		}
	}
}

var _ Publisher = (*KafkaProducer)(nil)
