package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/eventbus"
	"github.com/friendsincode/hearth/internal/events"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/testsupport"
)

func TestSecurityHeadersMiddleware_BaselineHeaders(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options=%q, want DENY", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); got == "" {
		t.Fatalf("expected Content-Security-Policy header")
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS on non-HTTPS request, got %q", got)
	}
}

func TestSecurityHeadersMiddleware_SetsHSTSOnHTTPS(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/player/status", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("Strict-Transport-Security=%q", got)
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Relay = config.RelayNone
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return srv
}

func TestServerHealthAndRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status string `json:"status"`
		Halted bool   `json:"halted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.Halted {
		t.Fatalf("health = %d %+v", resp.StatusCode, health)
	}

	resp, err = http.Get(ts.URL + "/api/queue")
	if err != nil {
		t.Fatalf("GET /api/queue: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/queue status=%d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing on API route")
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status=%d", resp.StatusCode)
	}
}

func TestServerStopTimerRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	post := func(body string) map[string]any {
		t.Helper()
		resp, err := http.Post(ts.URL+"/api/timer/stop-timer", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	if got := post(`{"minutes":30}`); got["stop_timer_remaining"] == nil {
		t.Fatalf("timer not set: %v", got)
	}
	if got := post(`{"minutes":0}`); got["stop_timer_remaining"] != nil {
		t.Fatalf("timer not cleared: %v", got)
	}
}

func TestServerRedisRelay(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Relay = config.RelayRedis
		cfg.RedisAddr = mr.Addr()
		cfg.RedisChannel = "hearth:test"
	})

	rc := eventbus.DefaultRedisConfig()
	rc.Addr = mr.Addr()
	rc.Channel = "hearth:test"
	listener := eventbus.NewRedisRelay(context.Background(), rc, "observer", zerolog.Nop())
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan models.Event, 4)
	go func() { _ = listener.Listen(ctx, false, func(e models.Event) { got <- e }) }()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(rc.Channel)[rc.Channel] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.bus.Emit(ctx, events.KindQueue, "relayed", "", nil)

	select {
	case e := <-got:
		if e.Title != "relayed" || e.Kind != events.KindQueue {
			t.Fatalf("relayed event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the relay")
	}
}
