package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/logger"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// NewRouter builds the API router.
func NewRouter(h *EventHandler, log *zap.Logger, metrics http.Handler, checks map[string]HealthCheck) http.Handler {
	log = logger.OrNop(log)
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Tracing)
	r.Use(Logger(log))
	r.Use(CORS)

	r.Get("/health", Health(checks))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetEvent)
			r.Get("/price", h.GetPrice)
			r.Get("/price/breakdown", h.GetPriceBreakdown)
			r.Post("/price/refresh", h.RefreshPrice)
			r.Post("/bookings", h.Reserve)
			r.Get("/bookings", h.ListBookings)
		})
	})

	return r
}

// Health handles GET /health. Any failing check turns the response into a 503.
func Health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		report := map[string]string{}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}

		body := map[string]any{"status": "ok", "checks": report}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	}
}
