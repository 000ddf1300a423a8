package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	clockport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/events"
)

const source = "catalog-intake-api"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Data      RecordEvent `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type RecordEvent struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Brand     *string   `json:"brand"`
	Category  *string   `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher writes record events to a Kafka topic, keyed by SKU so all events
// for one record land on the same partition.
type Publisher struct {
	writer messageWriter
	topic  string
	clk    clockport.Clock
	log    logrus.FieldLogger
}

type Options struct {
	Brokers []string
	Topic   string
}

// NewPublisher returns a synchronous publisher that waits for all in-sync replicas.
func NewPublisher(opts Options, clk clockport.Clock, log logrus.FieldLogger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newPublisher(w, opts.Topic, clk, log)
}

func newPublisher(w messageWriter, topic string, clk clockport.Clock, log logrus.FieldLogger) *Publisher {
	return &Publisher{writer: w, topic: topic, clk: clk, log: log}
}

var _ events.Publisher = (*Publisher)(nil)

func (p *Publisher) RecordCreated(ctx context.Context, r domain.Record) error {
	ev := Event{
		ID:     uuid.New().String(),
		Type:   events.TypeRecordCreated,
		Source: source,
		Data: RecordEvent{
			ID:        int64(r.ID),
			SKU:       r.SKU,
			Title:     r.Title,
			Status:    string(r.Status),
			Brand:     r.Brand,
			Category:  r.Category,
			CreatedAt: r.CreatedAt.UTC(),
		},
		Timestamp: p.clk.Now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(r.SKU),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.ID)},
			{Key: "event-type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(source)},
			{Key: "record-id", Value: []byte(strconv.FormatInt(int64(r.ID), 10))},
		},
	}

	fields := logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"topic":      p.topic,
		"record_id":  int64(r.ID),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithError(err).WithFields(fields).Error("failed to publish event")
		return err
	}
	p.log.WithFields(fields).Debug("event published")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
