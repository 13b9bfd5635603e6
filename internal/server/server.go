/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hearth/internal/api"
	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/db"
	"github.com/friendsincode/hearth/internal/events"
	"github.com/friendsincode/hearth/internal/player"
	"github.com/friendsincode/hearth/internal/playout"
	"github.com/friendsincode/hearth/internal/queue"
	"github.com/friendsincode/hearth/internal/resolver"
	"github.com/friendsincode/hearth/internal/storage"
	"github.com/friendsincode/hearth/internal/telemetry"
	"github.com/friendsincode/hearth/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	store    *storage.Store
	queue    *queue.Store
	bus      *events.Bus
	player   *player.Client
	director *playout.Director
	api      *api.API
	tracer   *telemetry.TracerProvider

	// faultSink forwards storage faults to the director once it exists.
	faultSink atomic.Pointer[playout.Director]

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires every component once and starts the playout director.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("hearth-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The event stream is long lived.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the WebSocket stream; the middleware timeout covers the rest.
		IdleTimeout: 60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	ctx := context.Background()

	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfigFrom(s.cfg, version.Version), s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracer = tp
	s.DeferClose(func() error { return tp.Shutdown(context.Background()) })

	store, err := storage.New(func() (*gorm.DB, error) { return db.Connect(s.cfg) }, storage.Options{
		Backoff: storage.BackoffFrom(s.cfg.StorageBackoff, len(storage.DefaultBackoff)),
		OnTransient: func(c storage.Category) {
			if d := s.faultSink.Load(); d != nil {
				d.OnStorageFault(c)
			}
		},
	}, s.logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.store = store
	s.DeferClose(store.Close)

	if err := store.Do(ctx, db.Migrate); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	s.queue = queue.New(store, s.logger)
	s.bus = events.NewBus(store, s.logger)
	s.DeferClose(func() error { s.bus.Close(); return nil })

	if err := s.attachRelay(ctx); err != nil {
		return err
	}

	s.player = player.NewClient(s.cfg.MPVSocket, s.cfg.IPCTimeout, s.logger)
	s.DeferClose(func() error { s.player.Close(); return nil })

	launcher := player.NewMPVLauncher(player.LauncherConfig{
		Bin:       s.cfg.MPVBin,
		Socket:    s.cfg.MPVSocket,
		LogDir:    s.cfg.MPVLogDir,
		ExtraArgs: s.cfg.MPVExtraArgs,
		KillGrace: s.cfg.KillGrace,
	}, s.logger)

	s.director = playout.NewDirector(playout.Options{
		Queue:         s.queue,
		Events:        s.bus,
		Launcher:      launcher,
		Player:        s.player,
		Resolver:      resolver.New(s.cfg.YTDLPBin, s.logger),
		Policy:        playout.DefaultPolicy(),
		Interval:      s.cfg.LoopInterval,
		StorageHealth: store.Health,
		Logger:        s.logger,
	})
	s.faultSink.Store(s.director)

	s.api = api.New(s.queue, s.director, s.bus, api.Config{
		RateLimitPerMinute: s.cfg.RateLimitPerMinute,
	}, s.logger)

	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		_ = s.director.Run(ctx)
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

// handleHealth reports degraded once storage has given up on a call.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.store.Health()
	status := "ok"
	if health.Exhausted > 0 {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"version": version.Version,
		"halted":  s.director.Halted(),
		"storage": health,
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
