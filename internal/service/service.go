package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/pricing"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/repository"
)

// EventService orchestrates event administration and read operations.
type EventService struct {
	store   repository.Store
	pricing *PricingCoordinator
	opts    options
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, pricing *PricingCoordinator, opts ...Option) *EventService {
	return &EventService{store: store, pricing: pricing, opts: buildOptions(opts)}
}

// CreateEvent validates the request and stores a new event priced at base.
// A request without a pricing configuration gets the default one.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	cfg := model.DefaultPricingConfig()
	if req.PricingConfig != nil {
		cfg = *req.PricingConfig
	}

	now := s.opts.now()
	event := &model.Event{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(req.Name),
		Venue:         strings.TrimSpace(req.Venue),
		Description:   strings.TrimSpace(req.Description),
		TotalCapacity: req.TotalCapacity,
		BasePrice:     req.BasePrice,
		PriceFloor:    req.PriceFloor,
		PriceCeiling:  req.PriceCeiling,
		CurrentPrice:  req.BasePrice,
		ScheduledAt:   req.ScheduledAt.UTC(),
		PricingConfig: cfg,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if event.Name == "" {
		return nil, &model.ConfigError{Field: "name", Reason: "is required"}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.opts.log.Info("event created",
		zap.String("event_id", event.ID),
		zap.Int("capacity", event.TotalCapacity),
		zap.Int64("base_price", event.BasePrice),
	)
	return event, nil
}

// ListEvents returns all events, each carrying its price derived now.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	for i := range events {
		if _, err := s.pricing.freshen(ctx, &events[i]); err != nil {
			return nil, fmt.Errorf("price event %s: %w", events[i].ID, err)
		}
	}
	return events, nil
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, model.ErrNotFound
	}
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// GetEventDetail returns an event with its remaining inventory and the
// explanation of its freshly derived price.
func (s *EventService) GetEventDetail(ctx context.Context, id string) (*model.EventDetail, error) {
	event, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.pricing.freshen(ctx, event)
	if err != nil {
		return nil, err
	}
	breakdown := pricing.Breakdown(res)
	return &model.EventDetail{
		Event:     *event,
		Remaining: event.Remaining(),
		Breakdown: &breakdown,
	}, nil
}

// ListBookings returns all bookings for an event.
func (s *EventService) ListBookings(ctx context.Context, eventID string) ([]model.Booking, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	bookings, err := s.store.ListBookings(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}
