/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
)

// ErrRelayOpen is returned while the circuit breaker suppresses publishing.
var ErrRelayOpen = errors.New("relay circuit open")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	RetryInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Channel:       "hearth:events",
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		RetryInterval: 30 * time.Second,
	}
}

// RedisRelay mirrors events onto a Redis pub/sub channel. After MaxFailures
// consecutive publish errors it stops trying until RetryInterval has passed.
type RedisRelay struct {
	client  *redis.Client
	channel string
	nodeID  string
	logger  zerolog.Logger

	mu            sync.Mutex
	failCount     int
	maxFails      int
	open          bool
	openedAt      time.Time
	retryInterval time.Duration
}

// NewRedisRelay connects to Redis. An unreachable server is logged and the
// relay starts with its circuit open rather than failing startup.
func NewRedisRelay(ctx context.Context, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisRelay {
	defaults := DefaultRedisConfig()
	if cfg.Channel == "" {
		cfg.Channel = defaults.Channel
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	r := &RedisRelay{
		client:        client,
		channel:       cfg.Channel,
		nodeID:        nodeID,
		logger:        logging.Component(logger, "redis_relay"),
		maxFails:      cfg.MaxFailures,
		retryInterval: cfg.RetryInterval,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		r.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, relay paused")
		r.open = true
		r.openedAt = time.Now()
		return r
	}

	r.logger.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("redis relay initialized")
	return r
}

// Publish sends the event to the channel.
func (r *RedisRelay) Publish(ctx context.Context, event models.Event) error {
	if !r.allow() {
		return ErrRelayOpen
	}

	data, err := marshalMessage(event, r.nodeID)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.failure()
		return fmt.Errorf("redis publish: %w", err)
	}

	r.mu.Lock()
	r.failCount = 0
	r.open = false
	r.mu.Unlock()
	return nil
}

// Listen delivers events from the channel to fn until ctx is done. Messages
// this node published itself are skipped unless includeOwn is set.
func (r *RedisRelay) Listen(ctx context.Context, includeOwn bool, fn func(models.Event)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis channel closed")
			}
			decoded, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				r.logger.Error().Err(err).Msg("failed to unmarshal redis message")
				continue
			}
			if decoded.NodeID == r.nodeID && !includeOwn {
				continue
			}
			fn(decoded.Event)
		}
	}
}

// Close closes the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func (r *RedisRelay) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return true
	}
	// Half-open: let one attempt through per retry interval.
	if time.Since(r.openedAt) >= r.retryInterval {
		r.openedAt = time.Now()
		return true
	}
	return false
}

func (r *RedisRelay) failure() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failCount++
	if r.failCount >= r.maxFails && !r.open {
		r.logger.Warn().Int("fail_count", r.failCount).Msg("redis failure threshold reached, relay paused")
		r.open = true
		r.openedAt = time.Now()
	}
}
