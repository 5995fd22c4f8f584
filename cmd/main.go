// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/cache"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/database"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/events"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/handler"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/logger"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/service"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Configuration and logging ─────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.IsDevelopment(),
		Service:     cfg.App.Name,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownWithTimeout(log, "telemetry", tracing.Shutdown)

	// ── 2. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	log.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, pool) },
	}

	// ── 3. Optional Redis and Kafka ───────────────────────────────────────
	var priceCache cache.PriceCache = cache.NoOpPriceCache{}
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		rc := cache.NewRedisPriceCache(client)
		priceCache = rc
		checks["redis"] = rc.HealthCheck
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher events.Publisher = events.NewNoOpPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(ctx, events.Config{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ClientID:    cfg.Kafka.ClientID,
			ServiceName: cfg.App.Name,
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		publisher = kp
		log.Info("connected to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	// ── 4. Wire up layers ────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	store := repository.NewPostgresStore(pool, cfg.Booking.LockTimeout)
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithPublisher(publisher),
		service.WithPriceCache(priceCache),
	}
	pricing := service.NewPricingCoordinator(store, cfg.Booking, opts...)
	bookings := service.NewBookingCoordinator(store, cfg.Booking, opts...)
	eventSvc := service.NewEventService(store, pricing, opts...)
	eventHandler := handler.NewEventHandler(eventSvc, bookings, pricing, log)

	router := handler.NewRouter(eventHandler, log,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), checks)

	go pricing.RunRefresher(ctx, cfg.Booking.RefreshInterval)

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func shutdownWithTimeout(log *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}
