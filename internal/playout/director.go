/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout runs the control loop that advances the queue and drives
// the player.
package playout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/hearth/internal/events"
	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/player"
	"github.com/friendsincode/hearth/internal/queue"
	"github.com/friendsincode/hearth/internal/storage"
	"github.com/friendsincode/hearth/internal/telemetry"
)

// Queue is the subset of the queue store the loop uses.
type Queue interface {
	Add(ctx context.Context, url, title string) (*models.QueueItem, error)
	Next(ctx context.Context) (*models.QueueItem, error)
	MarkPlaying(ctx context.Context, id int64) error
	MarkPlayed(ctx context.Context, id int64) error
	MarkSkipped(ctx context.Context, id int64) error
	MarkPending(ctx context.Context, id int64, errText string) error
	MarkFailed(ctx context.Context, id int64, errText string) error
	Requeue(ctx context.Context, id int64) error
	MoveToFront(ctx context.Context, id int64) error
	SetTitle(ctx context.Context, id int64, title string) error
	ResetStalePlaying(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (map[models.QueueStatus]int64, error)
}

// Emitter publishes notifications.
type Emitter interface {
	Emit(ctx context.Context, kind, title, detail string, itemID *int64) models.Event
}

// Player is the control channel to the running player.
type Player interface {
	Pause() bool
	Resume() bool
	TogglePause() bool
	Seek(position float64, mode string) bool
	SetVolume(volume float64) bool
	SetSpeed(speed float64) bool
	Status() player.Status
	Close()
}

// Resolver looks up a display title. Failure returns "".
type Resolver interface {
	ResolveTitle(ctx context.Context, url string) string
}

// Recorder is told about every finished play.
type Recorder interface {
	RecordPlay(ctx context.Context, url, title string, kind models.SourceKind) error
}

// Options wires a Director.
type Options struct {
	Queue    Queue
	Events   Emitter
	Launcher player.Launcher
	Player   Player
	Resolver Resolver // optional
	Recorder Recorder // optional
	Policy   Policy
	Interval time.Duration
	Logger   zerolog.Logger

	// StorageHealth feeds the status summary. Optional.
	StorageHealth func() storage.Health
}

// Director is the single authority that advances the queue. All runtime
// state except the flags below is owned by the Run goroutine.
type Director struct {
	queue         Queue
	bus           Emitter
	launcher      player.Launcher
	player        Player
	resolver      Resolver
	recorder      Recorder
	policy        Policy
	interval      time.Duration
	storageHealth func() storage.Health
	logger        zerolog.Logger
	tracer        trace.Tracer

	// Written by request handlers, read by the loop.
	current          atomic.Pointer[models.QueueItem]
	skipRequested    atomic.Bool
	stopRequested    atomic.Bool
	stopAfterCurrent atomic.Bool
	halted           atomic.Bool
	deadline         atomic.Int64 // unix nanos, 0 when unset
	interrupt        chan struct{}

	// Loop goroutine only; mirrored into atomics for status.
	counters       Counters
	rapidFailures  atomic.Int32
	rapidSuccesses atomic.Int32
	cascades       atomic.Int64
	storageFaults  atomic.Int64
}

// NewDirector creates a playout director.
func NewDirector(opts Options) *Director {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Director{
		queue:         opts.Queue,
		bus:           opts.Events,
		launcher:      opts.Launcher,
		player:        opts.Player,
		resolver:      opts.Resolver,
		recorder:      opts.Recorder,
		policy:        opts.Policy.withDefaults(),
		interval:      interval,
		storageHealth: opts.StorageHealth,
		logger:        logging.Component(opts.Logger, "director"),
		tracer:        telemetry.Tracer("hearth/playout"),
		interrupt:     make(chan struct{}, 1),
	}
}

// OnStorageFault is the storage layer's transient failure hook. It must not
// touch storage itself.
func (d *Director) OnStorageFault(category storage.Category) {
	d.storageFaults.Add(1)
	d.logger.Debug().Str("category", string(category)).Msg("storage fault reported")
}

// Run executes the loop until ctx is cancelled. It only returns on
// cancellation; playback and storage failures are logged and emitted.
func (d *Director) Run(ctx context.Context) error {
	d.logger.Info().Msg("playout director started")

	if n, err := d.queue.ResetStalePlaying(ctx); err != nil {
		d.logger.Error().Err(err).Msg("reset stale playing items")
	} else if n > 0 {
		d.bus.Emit(ctx, events.KindQueue, "Recovered interrupted playback", fmt.Sprintf("%d item(s) returned to pending", n), nil)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}
		if d.step(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	d.logger.Info().Msg("playout director stopped")
	return ctx.Err()
}

// step runs one loop iteration and reports whether an item was played.
func (d *Director) step(ctx context.Context) bool {
	if d.timerExpired(time.Now()) {
		d.expireTimer(ctx)
	}
	if d.halted.Load() {
		return false
	}
	if d.stopAfterCurrent.Load() && d.current.Load() == nil {
		return false
	}

	item, err := d.queue.Next(ctx)
	if err != nil {
		d.storageError(ctx, "fetch next item", err, nil)
		return false
	}
	if item == nil {
		return false
	}

	d.play(ctx, *item)
	return true
}

func (d *Director) play(ctx context.Context, item models.QueueItem) {
	d.skipRequested.Store(false)
	d.stopRequested.Store(false)
	d.drainInterrupt()

	if err := d.queue.MarkPlaying(ctx, item.ID); err != nil {
		if errors.Is(err, queue.ErrAlreadyPlaying) || errors.Is(err, queue.ErrNotPending) || errors.Is(err, queue.ErrNotFound) {
			d.logger.Warn().Err(err).Int64("item_id", item.ID).Msg("item changed before playback")
			return
		}
		d.storageError(ctx, "mark playing", err, &item.ID)
		return
	}
	item.Status = models.QueueStatusPlaying

	ctx, span := d.tracer.Start(ctx, "playout.play", trace.WithAttributes(
		attribute.Int64("item.id", item.ID),
		attribute.String("item.kind", string(item.SourceKind)),
	))
	defer span.End()

	// Visible from here on so skip and stop apply while the title resolves.
	claimed := item
	d.current.Store(&claimed)
	defer d.current.Store(nil)

	if item.Title == "" && d.resolver != nil {
		if title := d.resolver.ResolveTitle(ctx, item.URL); title != "" {
			item.Title = title
			if err := d.queue.SetTitle(ctx, item.ID, title); err != nil {
				d.logger.Warn().Err(err).Int64("item_id", item.ID).Msg("store resolved title")
			}
			resolved := item
			d.current.Store(&resolved)
		}
	}

	var (
		attempt  Attempt
		shutdown bool
	)
	switch {
	case ctx.Err() != nil:
		shutdown = true
	case d.skipRequested.Load() || d.stopRequested.Load():
		// Interrupted before launch, nothing to start.
		attempt = Attempt{Interrupted: true}
	default:
		d.logger.Info().Int64("item_id", item.ID).Str("title", item.DisplayTitle()).Str("kind", string(item.SourceKind)).Msg("playback starting")
		d.bus.Emit(ctx, events.KindPlayback, "Now playing: "+item.DisplayTitle(), item.URL, &item.ID)
		attempt, shutdown = d.run(ctx, item)
	}
	// No process runs past this point; retry and backoff waits are idle time.
	d.current.Store(nil)

	if shutdown {
		// Leave the item where it was for the next start.
		if err := d.queue.Requeue(context.WithoutCancel(ctx), item.ID); err != nil {
			d.logger.Error().Err(err).Int64("item_id", item.ID).Msg("requeue on shutdown")
		}
		span.SetAttributes(attribute.String("outcome", "shutdown"))
		return
	}

	stopped := d.stopRequested.Load()
	decision := d.policy.Classify(&d.counters, attempt)
	d.rapidFailures.Store(int32(d.counters.RapidFailures))
	d.rapidSuccesses.Store(int32(d.counters.RapidSuccesses))

	outcome := string(decision.Outcome)
	if stopped {
		outcome = "stopped"
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("exit_code", attempt.ExitCode),
		attribute.Float64("elapsed_seconds", attempt.Elapsed.Seconds()),
	)
	telemetry.PlaybackOutcomesTotal.WithLabelValues(outcome).Inc()

	d.logger.Info().
		Int64("item_id", item.ID).
		Int("exit_code", attempt.ExitCode).
		Dur("elapsed", attempt.Elapsed).
		Str("outcome", outcome).
		Msg("playback ended")

	if stopped {
		d.finishStopped(ctx, item)
		return
	}

	switch decision.Outcome {
	case OutcomePlayed:
		d.persist(ctx, "mark played", item.ID, d.queue.MarkPlayed(ctx, item.ID))
		d.record(ctx, item)
		d.bus.Emit(ctx, events.KindPlayback, "Finished: "+item.DisplayTitle(), "", &item.ID)

	case OutcomeSkipped:
		d.persist(ctx, "mark skipped", item.ID, d.queue.MarkSkipped(ctx, item.ID))
		d.record(ctx, item)
		d.bus.Emit(ctx, events.KindPlayback, "Skipped: "+item.DisplayTitle(), "", &item.ID)

	case OutcomeRetry:
		span.SetStatus(codes.Error, decision.Error)
		d.persist(ctx, "mark pending", item.ID, d.queue.MarkPending(ctx, item.ID, decision.Error))
		d.bus.Emit(ctx, events.KindRetry, "Retrying: "+item.DisplayTitle(), decision.Error, &item.ID)
		d.wait(ctx, decision.Delay)

	case OutcomeFailed:
		span.SetStatus(codes.Error, decision.Error)
		d.persist(ctx, "mark failed", item.ID, d.queue.MarkFailed(ctx, item.ID, decision.Error))
		d.record(ctx, item)
		d.bus.Emit(ctx, events.KindFailed, "Failed: "+item.DisplayTitle(), decision.Error, &item.ID)
		if decision.Cascade {
			d.cascades.Add(1)
			d.logger.Warn().Int64("item_id", item.ID).Dur("backoff", decision.Delay).Msg("playback cascade detected, backing off")
			d.bus.Emit(ctx, events.KindError, "Playback keeps failing, pausing before the next item",
				fmt.Sprintf("waiting %s after %d rapid exits", decision.Delay, d.policy.Threshold), &item.ID)
			d.wait(ctx, decision.Delay)
		}
	}
}

// run launches the player and blocks until it exits. shutdown is true when
// ctx ended the play.
func (d *Director) run(ctx context.Context, item models.QueueItem) (Attempt, bool) {
	started := time.Now()
	h, err := d.launcher.Launch(ctx, item)
	if err != nil {
		d.logger.Error().Err(err).Int64("item_id", item.ID).Msg("launch player")
		return Attempt{ExitCode: -1, Elapsed: time.Since(started), ErrorText: err.Error()}, false
	}
	defer d.player.Close()

	check := time.NewTicker(d.interval)
	defer check.Stop()

	for {
		select {
		case <-h.Done():
			attempt := Attempt{
				ExitCode:    h.ExitCode(),
				Elapsed:     time.Since(started),
				Interrupted: d.skipRequested.Load() || d.stopRequested.Load(),
			}
			if attempt.ExitCode != 0 && !attempt.Interrupted {
				attempt.ErrorText = h.ErrorText()
			}
			return attempt, false

		case <-d.interrupt:
			if d.skipRequested.Load() || d.stopRequested.Load() {
				h.Terminate()
			}

		case now := <-check.C:
			if d.timerExpired(now) {
				d.expireTimer(ctx)
				h.Terminate()
			}

		case <-ctx.Done():
			h.Terminate()
			return Attempt{}, true
		}
	}
}

func (d *Director) finishStopped(ctx context.Context, item models.QueueItem) {
	d.persist(ctx, "requeue", item.ID, d.queue.Requeue(ctx, item.ID))
	d.bus.Emit(ctx, events.KindPlayback, "Stopped: "+item.DisplayTitle(), "playback halted until resumed", &item.ID)
}

func (d *Director) record(ctx context.Context, item models.QueueItem) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordPlay(ctx, item.URL, item.Title, item.SourceKind); err != nil {
		d.logger.Warn().Err(err).Int64("item_id", item.ID).Msg("record play")
	}
}

func (d *Director) persist(ctx context.Context, op string, id int64, err error) {
	if err == nil || errors.Is(err, queue.ErrNotFound) {
		// A row removed while it played has nothing left to update.
		return
	}
	d.storageError(ctx, op, err, &id)
}

func (d *Director) storageError(ctx context.Context, op string, err error, id *int64) {
	if ctx.Err() != nil {
		return
	}
	d.logger.Error().Err(err).Str("op", op).Msg("storage error in control loop")
	d.bus.Emit(ctx, events.KindError, "Storage error", fmt.Sprintf("%s: %v", op, err), id)
}

// wait sleeps for delay, until ctx ends or until PlayNow cuts it short.
func (d *Director) wait(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.interrupt:
	case <-ctx.Done():
	}
}

func (d *Director) signal() {
	select {
	case d.interrupt <- struct{}{}:
	default:
	}
}

func (d *Director) drainInterrupt() {
	select {
	case <-d.interrupt:
	default:
	}
}
