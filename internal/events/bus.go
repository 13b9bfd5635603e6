/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/storage"
	"github.com/friendsincode/hearth/internal/telemetry"
)

// Event kinds emitted by the playback core.
const (
	KindPlayback = "playback"
	KindRetry    = "retry"
	KindFailed   = "failed"
	KindError    = "error"
	KindQueue    = "queue"
)

// MailboxCapacity bounds how far a subscriber may lag before it is dropped.
const MailboxCapacity = 50

const relayTimeout = 2 * time.Second

// Relay mirrors emitted events somewhere outside the process.
type Relay interface {
	Publish(ctx context.Context, event models.Event) error
}

// Subscription is a live mailbox. C is closed when the subscription ends,
// either by Unsubscribe or because the bus dropped a lagging reader.
type Subscription struct {
	ID string
	C  <-chan models.Event
	ch chan models.Event
}

// Bus persists every event and fans it out to live subscribers. Delivery is
// at most once; the persisted log is the backstop.
type Bus struct {
	db     *storage.Store
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	relays []Relay
}

// NewBus creates an event bus. db may be nil, in which case events are only
// fanned out.
func NewBus(db *storage.Store, logger zerolog.Logger) *Bus {
	return &Bus{
		db:     db,
		logger: logging.Component(logger, "events"),
		subs:   make(map[string]*Subscription),
	}
}

// AddRelay registers a relay that receives every emitted event.
func (b *Bus) AddRelay(r Relay) {
	b.mu.Lock()
	b.relays = append(b.relays, r)
	b.mu.Unlock()
}

// Emit records an event and pushes it to every subscriber. It never fails;
// persistence and relay errors are logged.
func (b *Bus) Emit(ctx context.Context, kind, title, detail string, itemID *int64) models.Event {
	event := models.Event{
		Kind:        kind,
		QueueItemID: itemID,
		Title:       title,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}

	if b.db != nil {
		err := b.db.Do(ctx, func(db *gorm.DB) error {
			event.ID = 0
			return db.Create(&event).Error
		})
		if err != nil {
			b.logger.Error().Err(err).Str("kind", kind).Str("title", title).Msg("persist event failed")
		}
	}
	telemetry.EventsEmittedTotal.WithLabelValues(kind).Inc()

	b.mu.Lock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			delete(b.subs, id)
			close(sub.ch)
			telemetry.EventSubscribersDroppedTotal.Inc()
			telemetry.EventSubscribers.Dec()
			b.logger.Warn().Str("subscriber", id).Msg("subscriber mailbox full, dropped")
		}
	}
	relays := append([]Relay(nil), b.relays...)
	b.mu.Unlock()

	for _, r := range relays {
		relayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayTimeout)
		if err := r.Publish(relayCtx, event); err != nil {
			b.logger.Warn().Err(err).Str("kind", kind).Msg("relay publish failed")
		}
		cancel()
	}

	return event
}

// Subscribe registers a new mailbox.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan models.Event, MailboxCapacity)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	telemetry.EventSubscribers.Inc()
	return sub
}

// Unsubscribe removes a mailbox. Unknown or already removed subscriptions
// are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.subs[sub.ID]
	if !ok || current != sub {
		return
	}
	delete(b.subs, sub.ID)
	close(sub.ch)
	telemetry.EventSubscribers.Dec()
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Recent returns up to limit persisted events, newest first.
func (b *Bus) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 || b.db == nil {
		return []models.Event{}, nil
	}

	var events []models.Event
	err := b.db.Do(ctx, func(db *gorm.DB) error {
		events = events[:0]
		return db.Order("id DESC").Limit(limit).Find(&events).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
		telemetry.EventSubscribers.Dec()
	}
}
