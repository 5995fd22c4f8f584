// Package cache holds the Redis-backed refresh throttle and last-price
// publication shared by service replicas.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/config"
)

// PriceCache coordinates advisory price refreshes across processes.
type PriceCache interface {
	// AcquireRefresh reports whether the caller may persist a refreshed price
	// for eventID. At most one caller wins per ttl window.
	AcquireRefresh(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	// ReleaseRefresh gives the window back after a refresh that wrote nothing.
	ReleaseRefresh(ctx context.Context, eventID string) error
	// PublishPrice records the latest persisted price of eventID.
	PublishPrice(ctx context.Context, eventID string, price int64) error
	// LastPrice returns the latest published price, if any.
	LastPrice(ctx context.Context, eventID string) (int64, bool, error)
}

func throttleKey(eventID string) string {
	return "price:refresh:" + eventID
}

func priceKey(eventID string) string {
	return "price:current:" + eventID
}

// RedisPriceCache implements PriceCache with go-redis.
type RedisPriceCache struct {
	client *redis.Client
}

// NewRedisClient creates a client from cfg and verifies it with PING.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisPriceCache wraps an existing client.
func NewRedisPriceCache(client *redis.Client) *RedisPriceCache {
	return &RedisPriceCache{client: client}
}

// AcquireRefresh sets the throttle key with NX and a millisecond expiry.
func (c *RedisPriceCache) AcquireRefresh(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, throttleKey(eventID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire refresh throttle: %w", err)
	}
	return ok, nil
}

func (c *RedisPriceCache) ReleaseRefresh(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, throttleKey(eventID)).Err(); err != nil {
		return fmt.Errorf("release refresh throttle: %w", err)
	}
	return nil
}

func (c *RedisPriceCache) PublishPrice(ctx context.Context, eventID string, price int64) error {
	if err := c.client.Set(ctx, priceKey(eventID), price, 0).Err(); err != nil {
		return fmt.Errorf("publish price: %w", err)
	}
	return nil
}

func (c *RedisPriceCache) LastPrice(ctx context.Context, eventID string) (int64, bool, error) {
	v, err := c.client.Get(ctx, priceKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read last price: %w", err)
	}
	price, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse last price %q: %w", v, err)
	}
	return price, true, nil
}

// HealthCheck pings Redis with a short deadline.
func (c *RedisPriceCache) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// NoOpPriceCache never throttles and remembers nothing. It stands in when
// Redis is not configured.
type NoOpPriceCache struct{}

func (NoOpPriceCache) AcquireRefresh(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (NoOpPriceCache) ReleaseRefresh(context.Context, string) error {
	return nil
}

func (NoOpPriceCache) PublishPrice(context.Context, string, int64) error {
	return nil
}

func (NoOpPriceCache) LastPrice(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}
