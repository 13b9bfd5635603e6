package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/eventbus"
	"github.com/friendsincode/hearth/internal/models"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueueCommands(t *testing.T) {
	t.Setenv("HEARTH_DB_DSN", filepath.Join(t.TempDir(), "hearth.db"))

	out, err := runCLI(t, "queue", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("empty list output = %q", out)
	}

	out, err = runCLI(t, "queue", "add", "/media/clip.mp4", "--title", "Local clip")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Queued #1 (local) Local clip") {
		t.Fatalf("add output = %q", out)
	}
	if _, err := runCLI(t, "queue", "add", "https://example.com/watch?v=1", "--title", "Remote"); err != nil {
		t.Fatalf("second add: %v", err)
	}

	out, err = runCLI(t, "queue", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"Local clip", "Remote", "pending", "video"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "queue", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "2") {
		t.Fatalf("status output = %q", out)
	}

	if _, err := runCLI(t, "queue", "retry", "1"); err == nil {
		t.Fatal("expected retry of a pending item to fail")
	}
	if _, err := runCLI(t, "queue", "retry", "abc"); err == nil {
		t.Fatal("expected invalid id to fail")
	}

	out, err = runCLI(t, "queue", "clear", "--all")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "Removed 2 items") {
		t.Fatalf("clear output = %q", out)
	}
}

func TestEventsRecentEmpty(t *testing.T) {
	t.Setenv("HEARTH_DB_DSN", filepath.Join(t.TempDir(), "hearth.db"))

	out, err := runCLI(t, "events", "recent")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !strings.Contains(out, "No events recorded") {
		t.Fatalf("recent output = %q", out)
	}
}

func TestParseIDs(t *testing.T) {
	got, err := parseIDs([]string{"3", "#7"})
	if err != nil {
		t.Fatalf("parseIDs: %v", err)
	}
	if diff := cmp.Diff([]int64{3, 7}, got); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"0", "-1", "x"} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestBuildQueueStatusRows(t *testing.T) {
	rows := buildQueueStatusRows(map[models.QueueStatus]int64{
		models.QueueStatusFailed:  1,
		models.QueueStatusPending: 4,
		models.QueueStatusPlaying: 1,
		models.QueueStatusPlayed:  0,
	})
	want := [][]string{
		{"playing", "1"},
		{"pending", "4"},
		{"failed", "1"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestFollowRelayRequiresRelay(t *testing.T) {
	err := followRelay(context.Background(), &config.Config{Relay: config.RelayNone}, func(models.Event) {})
	if err == nil || !strings.Contains(err.Error(), "no event relay") {
		t.Fatalf("expected missing relay error, got %v", err)
	}
}

func TestFollowRelayRedis(t *testing.T) {
	logger = zerolog.Nop()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	c := &config.Config{Relay: config.RelayRedis, RedisAddr: mr.Addr(), RedisChannel: "hearth:test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan models.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- followRelay(ctx, c, func(e models.Event) { got <- e })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(c.RedisChannel)[c.RedisChannel] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("follower never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rc := eventbus.DefaultRedisConfig()
	rc.Addr = mr.Addr()
	rc.Channel = c.RedisChannel
	publisher := eventbus.NewRedisRelay(ctx, rc, "publisher", zerolog.Nop())
	defer publisher.Close()

	sent := models.Event{Kind: "playback", Title: "Now playing: Remote", CreatedAt: time.Unix(1700000000, 0).UTC()}
	if err := publisher.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case e := <-got:
		if e.Title != sent.Title || e.Kind != sent.Kind {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not return after cancel")
	}
}

func TestWriteEventLine(t *testing.T) {
	var buf bytes.Buffer
	writeEventLine(&buf, models.Event{Kind: "error", Title: "Storage error", Detail: "disk full", CreatedAt: time.Now()})
	if !strings.Contains(buf.String(), "Storage error (disk full)") {
		t.Fatalf("line = %q", buf.String())
	}
}
