/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/telemetry"
)

// ErrRetriesExhausted is returned once every backoff step failed transiently.
var ErrRetriesExhausted = errors.New("storage retries exhausted")

// DefaultBackoff is the delay schedule between attempts, about 15.5s in total.
var DefaultBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// Opener produces a fresh database handle. It is called once at startup and
// again before every retry.
type Opener func() (*gorm.DB, error)

// Options tune a Store.
type Options struct {
	// Backoff overrides DefaultBackoff. Its length is the retry budget.
	Backoff []time.Duration
	// OnTransient is called with the category of every transient failure.
	OnTransient func(Category)
}

// Fault describes the most recent transient failure.
type Fault struct {
	Category Category  `json:"category"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Health summarises storage faults since startup.
type Health struct {
	TransientFailures int64  `json:"transient_failures"`
	Exhausted         int64  `json:"exhausted"`
	LastFault         *Fault `json:"last_fault,omitempty"`
}

// Store runs every read and write through retry-with-backoff.
type Store struct {
	open        Opener
	backoff     []time.Duration
	onTransient func(Category)
	logger      zerolog.Logger

	mu sync.RWMutex
	db *gorm.DB

	transient atomic.Int64
	exhausted atomic.Int64
	lastFault atomic.Pointer[Fault]
}

// New opens the initial connection and returns a Store.
func New(open Opener, opts Options, logger zerolog.Logger) (*Store, error) {
	db, err := open()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backoff := opts.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}

	return &Store{
		open:        open,
		backoff:     backoff,
		onTransient: opts.OnTransient,
		logger:      logging.Component(logger, "storage"),
		db:          db,
	}, nil
}

// BackoffFrom builds a doubling schedule of n steps starting at base.
func BackoffFrom(base time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = base << i
	}
	return out
}

// DB returns the current handle without retry protection. Intended for
// migrations and tests.
func (s *Store) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Do executes op, retrying transient faults and reopening the connection
// before each new attempt.
func (s *Store) Do(ctx context.Context, op func(db *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		db := s.DB()
		lastErr = op(db.WithContext(ctx))
		if lastErr == nil {
			return nil
		}

		category, transient := Classify(lastErr)
		if !transient {
			return lastErr
		}
		s.recordTransient(category, lastErr)

		if attempt >= len(s.backoff) {
			break
		}

		delay := s.backoff[attempt]
		s.logger.Warn().
			Err(lastErr).
			Str("category", string(category)).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("transient storage failure, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := s.reopen(db); err != nil {
			s.logger.Warn().Err(err).Msg("reopen database failed")
		}
	}

	s.exhausted.Add(1)
	telemetry.StorageRetriesExhaustedTotal.Inc()
	s.logger.Error().Err(lastErr).Int("attempts", len(s.backoff)+1).Msg("storage retries exhausted")
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// Transaction runs fn inside a database transaction with retry protection.
// The whole transaction is retried, so fn must not have side effects outside it.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.Do(ctx, func(db *gorm.DB) error {
		return db.Transaction(fn)
	})
}

// Health reports fault counters and the most recent fault.
func (s *Store) Health() Health {
	return Health{
		TransientFailures: s.transient.Load(),
		Exhausted:         s.exhausted.Load(),
		LastFault:         s.lastFault.Load(),
	}
}

// Close releases the current connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closeDB(s.db)
}

func (s *Store) recordTransient(category Category, err error) {
	s.transient.Add(1)
	s.lastFault.Store(&Fault{Category: category, Error: err.Error(), At: time.Now()})
	telemetry.StorageTransientFailuresTotal.WithLabelValues(string(category)).Inc()
	if s.onTransient != nil {
		s.onTransient(category)
	}
}

// reopen swaps in a fresh handle unless another caller already replaced the
// one that failed.
func (s *Store) reopen(failed *gorm.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != failed {
		return nil
	}

	_ = closeDB(s.db)
	db, err := s.open()
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
