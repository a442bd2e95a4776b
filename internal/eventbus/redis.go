/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld/internal/events"
)

// redisChannelPrefix namespaces skuld events in a shared Redis.
const redisChannelPrefix = "skuld.events."

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxFailures:  5,
	}
}

// RedisBus carries events between nodes over Redis pub/sub. After
// MaxFailures consecutive publish failures it stops trying and the
// deployment degrades to single-node delivery.
type RedisBus struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	logger  zerolog.Logger
	nodeID  string
	deliver DeliverFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	disabled  bool
	failCount int
	maxFails  int
}

// NewRedisBus connects to Redis and starts receiving remote events.
// If Redis is unreachable the bus comes up disabled rather than
// failing startup.
func NewRedisBus(cfg RedisConfig, nodeID string, deliver DeliverFunc, logger zerolog.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rb := &RedisBus{
		client:   client,
		logger:   logger.With().Str("component", "eventbus_redis").Logger(),
		nodeID:   nodeID,
		deliver:  deliver,
		ctx:      ctx,
		cancel:   cancel,
		maxFails: cfg.MaxFailures,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, events stay node-local")
		rb.disabled = true
		return rb, nil
	}

	channels := make([]string, len(relayedEvents))
	for i, et := range relayedEvents {
		channels[i] = redisChannelPrefix + string(et)
	}
	rb.pubsub = client.Subscribe(ctx, channels...)

	rb.wg.Add(1)
	go rb.receive()

	rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus initialized")
	return rb, nil
}

// Forward publishes a local event to the Redis channel for its type.
func (rb *RedisBus) Forward(eventType events.EventType, payload events.Payload) error {
	rb.mu.Lock()
	disabled := rb.disabled
	rb.mu.Unlock()
	if disabled {
		return nil
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, redisChannelPrefix+string(eventType), data).Err(); err != nil {
		rb.handleFailure()
		return err
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
	return nil
}

// receive handles incoming Redis pub/sub messages.
func (rb *RedisBus) receive() {
	defer rb.wg.Done()

	ch := rb.pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis pub/sub channel closed")
				rb.handleFailure()
				return
			}

			wire, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
				continue
			}

			// Skip our own messages; Redis echoes them back.
			if wire.NodeID == rb.nodeID {
				continue
			}

			payload := wire.Payload
			if payload == nil {
				payload = events.Payload{}
			}
			payload["node_id"] = wire.NodeID
			rb.deliver(wire.EventType, payload)
		}
	}
}

// handleFailure implements the circuit breaker.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.disabled {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, events stay node-local")
		rb.disabled = true
	}
}

// Close stops the receiver and closes the connection.
func (rb *RedisBus) Close() error {
	rb.cancel()
	if rb.pubsub != nil {
		rb.pubsub.Close()
	}
	rb.wg.Wait()
	return rb.client.Close()
}

// wireMessage is the cross-node message envelope.
type wireMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	})
}

func unmarshalMessage(data []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}
