// Package events publishes booking domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
)

// TypeBookingCommitted is the event type emitted after a reservation commits.
const TypeBookingCommitted = "booking.committed"

// BookingCommitted is the payload of a committed reservation.
type BookingCommitted struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	BookingID     string    `json:"booking_id"`
	TicketEventID string    `json:"ticket_event_id"`
	Quantity      int       `json:"quantity"`
	UnitPrice     int64     `json:"unit_price"`
	PricePaid     int64     `json:"price_paid"`
	Remaining     int       `json:"remaining"`
}

// NewBookingCommitted builds the payload for b. remaining is the inventory
// left after the booking committed.
func NewBookingCommitted(b *model.Booking, remaining int) BookingCommitted {
	return BookingCommitted{
		EventID:       uuid.New().String(),
		EventType:     TypeBookingCommitted,
		OccurredAt:    b.CommittedAt,
		BookingID:     b.ID,
		TicketEventID: b.EventID,
		Quantity:      b.Quantity,
		UnitPrice:     b.UnitPrice,
		PricePaid:     b.PricePaid,
		Remaining:     remaining,
	}
}

// Publisher defines the interface for publishing booking events
type Publisher interface {
	PublishBookingCommitted(ctx context.Context, b *model.Booking, remaining int) error
	Close() error
}

// Config contains configuration for the Kafka publisher
type Config struct {
	Brokers     []string
	Topic       string
	ClientID    string
	ServiceName string
}

// KafkaPublisher implements Publisher using franz-go.
type KafkaPublisher struct {
	client      *kgo.Client
	topic       string
	serviceName string
}

// NewKafkaPublisher connects to the seed brokers and verifies reachability.
func NewKafkaPublisher(ctx context.Context, cfg Config) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "booking-events"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "surge-ticketing"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic, serviceName: cfg.ServiceName}, nil
}

// PublishBookingCommitted produces the event keyed by ticket event id, so all
// bookings of one event land on one partition in commit order.
func (p *KafkaPublisher) PublishBookingCommitted(ctx context.Context, b *model.Booking, remaining int) error {
	rec, err := bookingRecord(p.topic, p.serviceName, NewBookingCommitted(b, remaining))
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish %s event: %w", TypeBookingCommitted, err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *KafkaPublisher) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

func bookingRecord(topic, source string, ev BookingCommitted) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.TicketEventID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "source", Value: []byte(source)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Timestamp: ev.OccurredAt,
	}, nil
}

// NoOpPublisher discards events. It is used when no brokers are configured.
type NoOpPublisher struct{}

// NewNoOpPublisher creates a publisher that does nothing
func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (p *NoOpPublisher) PublishBookingCommitted(context.Context, *model.Booking, int) error {
	return nil
}

func (p *NoOpPublisher) Close() error {
	return nil
}
