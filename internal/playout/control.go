/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"fmt"

	"github.com/friendsincode/hearth/internal/events"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/player"
	"github.com/friendsincode/hearth/internal/storage"
)

// PlayNow queues url at the front and interrupts whatever is playing.
func (d *Director) PlayNow(ctx context.Context, url, title string) (*models.QueueItem, error) {
	item, err := d.queue.Add(ctx, url, title)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	if err := d.queue.MoveToFront(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("move to front: %w", err)
	}

	d.halted.Store(false)
	d.stopAfterCurrent.Store(false)
	if !d.Skip() {
		// Wakes a loop waiting out a retry delay or cascade backoff.
		d.signal()
	}

	d.logger.Info().Int64("item_id", item.ID).Str("url", url).Msg("play now")
	d.bus.Emit(ctx, events.KindQueue, "Play now: "+item.DisplayTitle(), url, &item.ID)
	return item, nil
}

// Skip ends the current item. It reports false when nothing is playing.
func (d *Director) Skip() bool {
	if d.current.Load() == nil {
		return false
	}
	d.skipRequested.Store(true)
	d.signal()
	return true
}

// Stop interrupts the current item, returns it to its slot and halts the
// loop until ResumeAfterStop.
func (d *Director) Stop() {
	d.halted.Store(true)
	if d.current.Load() != nil {
		d.stopRequested.Store(true)
		d.signal()
	}
	d.logger.Info().Msg("playback stopped")
}

// ResumeAfterStop lets the loop pick up items again.
func (d *Director) ResumeAfterStop() {
	d.halted.Store(false)
	d.logger.Info().Msg("playback resumed after stop")
}

// Halted reports whether Stop is in effect.
func (d *Director) Halted() bool { return d.halted.Load() }

// Current returns a copy of the playing item, or nil.
func (d *Director) Current() *models.QueueItem {
	item := d.current.Load()
	if item == nil {
		return nil
	}
	cp := *item
	return &cp
}

func (d *Director) Pause() bool { return d.player.Pause() }
func (d *Director) Resume() bool { return d.player.Resume() }
func (d *Director) Toggle() bool { return d.player.TogglePause() }

// SetVolume is clamped to 0..100 by the player client.
func (d *Director) SetVolume(volume float64) bool { return d.player.SetVolume(volume) }

// SetSpeed is clamped to 0.25..4 by the player client.
func (d *Director) SetSpeed(speed float64) bool { return d.player.SetSpeed(speed) }

// Seek moves playback. mode is one of relative, absolute, absolute-percent.
func (d *Director) Seek(position float64, mode string) bool {
	return d.player.Seek(position, mode)
}

// HealthSummary gathers failure counters for operators.
type HealthSummary struct {
	Counters      Counters                     `json:"counters"`
	Cascades      int64                        `json:"cascades"`
	StorageFaults int64                        `json:"storage_faults"`
	Storage       *storage.Health              `json:"storage,omitempty"`
	Queue         map[models.QueueStatus]int64 `json:"queue,omitempty"`
}

// CombinedStatus is player properties plus loop state.
type CombinedStatus struct {
	Player  player.Status     `json:"player"`
	Current *models.QueueItem `json:"current"`
	Timer   TimerState        `json:"timer"`
	Halted  bool              `json:"halted"`
	Health  HealthSummary     `json:"health"`
}

// Status composes the player snapshot with the loop's own state. Player
// and queue failures degrade to zero values.
func (d *Director) Status(ctx context.Context) CombinedStatus {
	return CombinedStatus{
		Current: d.Current(),
		Timer:   d.TimerState(),
		Halted:  d.halted.Load(),
		Health:  d.Health(ctx),
		Player:  d.player.Status(),
	}
}

// Health reports failure counters, storage health and queue counts.
func (d *Director) Health(ctx context.Context) HealthSummary {
	h := HealthSummary{
		Counters: Counters{
			RapidFailures:  int(d.rapidFailures.Load()),
			RapidSuccesses: int(d.rapidSuccesses.Load()),
		},
		Cascades:      d.cascades.Load(),
		StorageFaults: d.storageFaults.Load(),
	}
	if d.storageHealth != nil {
		sh := d.storageHealth()
		h.Storage = &sh
	}
	if stats, err := d.queue.Stats(ctx); err == nil {
		h.Queue = stats
	} else {
		d.logger.Warn().Err(err).Msg("queue stats")
	}
	return h
}
