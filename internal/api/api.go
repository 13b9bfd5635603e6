/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the JSON and WebSocket adapter in front of the queue,
// the playout director and the event bus.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/events"
	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/playout"
)

// Queue is the queue store surface used by the handlers.
type Queue interface {
	Add(ctx context.Context, url, title string) (*models.QueueItem, error)
	Get(ctx context.Context, id int64) (*models.QueueItem, error)
	Remove(ctx context.Context, id int64) error
	List(ctx context.Context) ([]models.QueueItem, error)
	ListPending(ctx context.Context) ([]models.QueueItem, error)
	ListFailed(ctx context.Context) ([]models.QueueItem, error)
	Reorder(ctx context.Context, ids []int64) error
	Replay(ctx context.Context, id int64) error
	RetryFailed(ctx context.Context, id int64) error
	ClearPlayed(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
}

// Controller drives playback.
type Controller interface {
	PlayNow(ctx context.Context, url, title string) (*models.QueueItem, error)
	Pause() bool
	Resume() bool
	Toggle() bool
	Skip() bool
	Stop()
	ResumeAfterStop()
	Seek(position float64, mode string) bool
	SetVolume(volume float64) bool
	SetSpeed(speed float64) bool
	Status(ctx context.Context) playout.CombinedStatus
	SetStopAfterCurrent(enabled bool)
	SetStopTimer(minutes float64)
	TimerState() playout.TimerState
}

// Events is the notification surface.
type Events interface {
	Subscribe() *events.Subscription
	Unsubscribe(sub *events.Subscription)
	Recent(ctx context.Context, limit int) ([]models.Event, error)
}

// Config tunes the adapter.
type Config struct {
	// RateLimitPerMinute caps requests per client IP. Zero disables the limit.
	RateLimitPerMinute int
	// PingInterval is the WebSocket heartbeat period.
	PingInterval time.Duration
}

// API exposes HTTP handlers.
type API struct {
	queue  Queue
	player Controller
	events Events
	cfg    Config
	logger zerolog.Logger
}

// New creates the API router wrapper.
func New(queue Queue, player Controller, ev Events, cfg Config, logger zerolog.Logger) *API {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return &API{
		queue:  queue,
		player: player,
		events: ev,
		cfg:    cfg,
		logger: logging.Component(logger, "api"),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		if a.cfg.RateLimitPerMinute > 0 {
			r.Use(rateLimit(a.cfg.RateLimitPerMinute, time.Minute))
		}

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", a.handleQueueList)
			r.Post("/", a.handleQueueAdd)
			r.Delete("/", a.handleQueueClearAll)
			r.Get("/pending", a.handleQueuePending)
			r.Get("/failed", a.handleQueueFailed)
			r.Post("/reorder", a.handleQueueReorder)
			r.Post("/clear/{which}", a.handleQueueClear)
			r.Get("/{id}", a.handleQueueGet)
			r.Delete("/{id}", a.handleQueueRemove)
			r.Post("/{id}/replay", a.handleQueueReplay)
			r.Post("/{id}/retry", a.handleQueueRetry)
		})

		r.Route("/player", func(r chi.Router) {
			r.Get("/status", a.handlePlayerStatus)
			r.Post("/play-now", a.handlePlayNow)
			r.Post("/pause", a.transport(a.player.Pause))
			r.Post("/resume", a.transport(a.player.Resume))
			r.Post("/toggle", a.transport(a.player.Toggle))
			r.Post("/skip", a.handleSkip)
			r.Post("/stop", a.handleStop)
			r.Post("/resume-after-stop", a.handleResumeAfterStop)
			r.Post("/seek", a.handleSeek)
			r.Post("/volume", a.handleVolume)
			r.Post("/speed", a.handleSpeed)
		})

		r.Route("/timer", func(r chi.Router) {
			r.Get("/", a.handleTimerState)
			r.Post("/stop-after-current", a.handleStopAfterCurrent)
			r.Post("/stop-timer", a.handleStopTimer)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/recent", a.handleEventsRecent)
			r.Get("/ws", a.handleEventsWS)
		})
	})
}

// rateLimit limits requests per client IP and answers 429 in the API's
// error shape.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		}),
	)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// decodeJSON reads a bounded JSON body. It writes the 400 itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return 0, false
	}
	return id, true
}
