// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/logger"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/service"
)

// EventHandler holds all HTTP handlers for the ticketing API.
type EventHandler struct {
	events   *service.EventService
	bookings *service.BookingCoordinator
	pricing  *service.PricingCoordinator
	validate *validator.Validate
	log      *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(
	events *service.EventService,
	bookings *service.BookingCoordinator,
	pricing *service.PricingCoordinator,
	log *zap.Logger,
) *EventHandler {
	return &EventHandler{
		events:   events,
		bookings: bookings,
		pricing:  pricing,
		validate: newValidator(),
		log:      logger.OrNop(log),
	}
}

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// bind decodes and validates a request body, writing a 400 on failure.
func (h *EventHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error(), nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
			return false
		}
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeError(w, http.StatusBadRequest, "validation_failed", "request validation failed", fields)
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP responses.
func (h *EventHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *model.InsufficientInventoryError
	var ce *model.ConfigError

	switch {
	case model.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "event not found", nil)
	case errors.As(err, &ie):
		writeError(w, http.StatusConflict, "insufficient_inventory", "not enough tickets remaining",
			map[string]any{"requested": ie.Requested, "remaining": ie.Remaining})
	case errors.As(err, &ce):
		writeError(w, http.StatusUnprocessableEntity, "invalid_configuration", err.Error(),
			map[string]any{"field": ce.Field})
	case errors.Is(err, model.ErrInvalidQuantity):
		writeError(w, http.StatusUnprocessableEntity, "invalid_quantity", err.Error(), nil)
	case model.IsTransient(err):
		h.log.Warn("transient storage failure", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "please retry", nil)
	default:
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if !h.bind(w, r, &req) {
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
// Returns the event with its remaining inventory and price breakdown.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	detail, err := h.events.GetEventDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// GetPrice handles GET /events/{id}/price
func (h *EventHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	res, err := h.pricing.GetCurrentPrice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetPriceBreakdown handles GET /events/{id}/price/breakdown
func (h *EventHandler) GetPriceBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.pricing.GetBreakdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

// RefreshPrice handles POST /events/{id}/price/refresh
func (h *EventHandler) RefreshPrice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	price, err := h.pricing.RefreshAndPersist(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"event_id": id, "current_price": price})
}

// Reserve handles POST /events/{id}/bookings
// Performs a concurrency-safe purchase at the price derived under the event lock.
func (h *EventHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req model.ReserveRequest
	if !h.bind(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		if len(key) > 128 {
			writeError(w, http.StatusBadRequest, "validation_failed", "request validation failed",
				map[string]any{"idempotency_key": "max"})
			return
		}
		req.IdempotencyKey = key
	}

	booking, err := h.bookings.Reserve(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

// ListBookings handles GET /events/{id}/bookings
func (h *EventHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.events.ListBookings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if bookings == nil {
		bookings = []model.Booking{}
	}

	writeJSON(w, http.StatusOK, bookings)
}
