/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps hot resource records in Redis so booking
// admission does not hit the database on every request. The cache is
// strictly an accelerator: every operation degrades to a no-op when
// Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld/internal/models"
)

const (
	DefaultResourceTTL     = 1 * time.Hour
	DefaultResourceListTTL = 5 * time.Minute
)

// Redis key layout.
const (
	KeyResourceList = "skuld:cache:resources"
	KeyResource     = "skuld:cache:resource:" // + resource_id
)

// Config contains cache settings.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ResourceTTL     time.Duration
	ResourceListTTL time.Duration

	// DisableOnError trips the breaker on the first Redis failure
	// instead of retrying a sick backend on every request.
	DisableOnError bool
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		ResourceTTL:     DefaultResourceTTL,
		ResourceListTTL: DefaultResourceListTTL,
		DisableOnError:  true,
	}
}

// Cache is a Redis-backed read-through cache with a trip-once breaker.
type Cache struct {
	client   *redis.Client
	cfg      Config
	logger   zerolog.Logger
	disabled atomic.Bool
}

// New connects to Redis. When the ping fails the cache comes up
// disabled rather than failing startup; the service runs uncached.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	c := &Cache{
		cfg:    cfg,
		logger: logger.With().Str("component", "cache").Logger(),
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis unreachable, running uncached")
		c.disabled.Store(true)
		return c, nil
	}

	c.client = client
	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("resource cache ready")
	return c, nil
}

// Disabled returns a cache that never touches Redis. Used when no
// Redis address is configured.
func Disabled(logger zerolog.Logger) *Cache {
	c := &Cache{logger: logger.With().Str("component", "cache").Logger()}
	c.disabled.Store(true)
	return c
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether cache operations reach Redis.
func (c *Cache) IsAvailable() bool {
	return c.client != nil && !c.disabled.Load()
}

// trip records a Redis failure, disabling the cache when configured to.
func (c *Cache) trip(op string, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("op", op).Msg("cache operation failed")
	if c.cfg.DisableOnError && c.disabled.CompareAndSwap(false, true) {
		c.logger.Warn().Msg("cache disabled after redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.trip("get", err)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// A stale or foreign value under our key; treat as a miss.
		c.logger.Debug().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.trip("set", err)
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.trip("delete", err)
		return err
	}
	return nil
}

// GetResource returns a cached resource record.
func (c *Cache) GetResource(ctx context.Context, resourceID string) (*models.Resource, bool) {
	var res models.Resource
	if !c.get(ctx, KeyResource+resourceID, &res) {
		return nil, false
	}
	return &res, true
}

// SetResource caches a resource record.
func (c *Cache) SetResource(ctx context.Context, res *models.Resource) error {
	return c.set(ctx, KeyResource+res.ID, res, c.cfg.ResourceTTL)
}

// GetResourceList returns the cached resource listing.
func (c *Cache) GetResourceList(ctx context.Context) ([]models.Resource, bool) {
	var resources []models.Resource
	if !c.get(ctx, KeyResourceList, &resources) {
		return nil, false
	}
	return resources, true
}

// SetResourceList caches the resource listing.
func (c *Cache) SetResourceList(ctx context.Context, resources []models.Resource) error {
	return c.set(ctx, KeyResourceList, resources, c.cfg.ResourceListTTL)
}

// InvalidateResource drops a resource and the listing it appears in.
// Called on every resource mutation, local or relayed.
func (c *Cache) InvalidateResource(ctx context.Context, resourceID string) error {
	return c.delete(ctx, KeyResource+resourceID, KeyResourceList)
}
