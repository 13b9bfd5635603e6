package player

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/models"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-mpv")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitDone(t *testing.T, h Handle, within time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(within):
		t.Fatalf("process did not exit within %v", within)
	}
}

func TestArgsUseLowerProfileForLive(t *testing.T) {
	l := NewMPVLauncher(LauncherConfig{Socket: "/tmp/s.sock", ExtraArgs: []string{"--fs"}}, zerolog.Nop())

	live := strings.Join(l.Args(models.QueueItem{URL: "https://twitch.tv/x", SourceKind: models.SourceLive}, ""), " ")
	if !strings.Contains(live, "--ytdl-format="+liveFormat) {
		t.Fatalf("live args missing low profile: %s", live)
	}

	video := l.Args(models.QueueItem{URL: "https://youtu.be/x", Title: "Clip", SourceKind: models.SourceVideo}, "/var/log/mpv-1.log")
	joined := strings.Join(video, " ")
	for _, want := range []string{"--input-ipc-server=/tmp/s.sock", "--ytdl-format=" + videoFormat, "--force-media-title=Clip", "--log-file=/var/log/mpv-1.log", "--fs"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %s in %s", want, joined)
		}
	}
	if video[len(video)-1] != "https://youtu.be/x" || video[len(video)-2] != "--" {
		t.Fatalf("url must be last after --: %v", video)
	}

	local := strings.Join(l.Args(models.QueueItem{URL: "/media/a.mkv", SourceKind: models.SourceLocal}, ""), " ")
	if strings.Contains(local, "--ytdl-format") {
		t.Fatalf("local files need no ytdl profile: %s", local)
	}
}

func TestLaunchReportsExitCode(t *testing.T) {
	bin := writeScript(t, "exit 2")
	l := NewMPVLauncher(LauncherConfig{Bin: bin, Socket: "/tmp/unused.sock"}, zerolog.Nop())

	h, err := l.Launch(context.Background(), models.QueueItem{ID: 1, URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitDone(t, h, 5*time.Second)
	if h.ExitCode() != 2 {
		t.Fatalf("expected exit code 2, got %d", h.ExitCode())
	}
	if got := h.ErrorText(); got != "source could not be played" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestLaunchUsesDebugLogForErrorText(t *testing.T) {
	logDir := t.TempDir()
	// Write the log where --log-file points, then fail.
	bin := writeScript(t, `for a in "$@"; do case "$a" in --log-file=*) echo "[   0.5][e][ytdl_hook] ERROR: [youtube] abc: Video unavailable" > "${a#--log-file=}";; esac; done
exit 2`)
	l := NewMPVLauncher(LauncherConfig{Bin: bin, LogDir: logDir}, zerolog.Nop())

	h, err := l.Launch(context.Background(), models.QueueItem{ID: 9, URL: "https://youtu.be/abc", SourceKind: models.SourceVideo})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitDone(t, h, 5*time.Second)
	if got := h.ErrorText(); got != "video unavailable" {
		t.Fatalf("expected log-derived error, got %q", got)
	}
}

func TestTerminateInterruptsProcess(t *testing.T) {
	bin := writeScript(t, "exec sleep 30")
	l := NewMPVLauncher(LauncherConfig{Bin: bin, KillGrace: 2 * time.Second}, zerolog.Nop())

	h, err := l.Launch(context.Background(), models.QueueItem{ID: 2, URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	start := time.Now()
	h.Terminate()
	waitDone(t, h, time.Second)
	if time.Since(start) > 1500*time.Millisecond {
		t.Fatal("interrupt should end sleep before the kill deadline")
	}
	if h.ExitCode() == 0 {
		t.Fatal("expected nonzero exit after interrupt")
	}
	// Terminating an exited process is a no-op.
	h.Terminate()
}

func TestTerminateKillsAfterGrace(t *testing.T) {
	bin := writeScript(t, "trap '' INT\nexec sleep 30")
	l := NewMPVLauncher(LauncherConfig{Bin: bin, KillGrace: 200 * time.Millisecond}, zerolog.Nop())

	h, err := l.Launch(context.Background(), models.QueueItem{ID: 3, URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	// Give the shell time to install the trap before exec.
	time.Sleep(100 * time.Millisecond)
	h.Terminate()
	waitDone(t, h, 5*time.Second)
	if h.ExitCode() != -1 {
		t.Fatalf("expected killed process to report -1, got %d", h.ExitCode())
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	l := NewMPVLauncher(LauncherConfig{Bin: filepath.Join(t.TempDir(), "nope")}, zerolog.Nop())
	if _, err := l.Launch(context.Background(), models.QueueItem{URL: "x"}); err == nil {
		t.Fatal("expected launch error for missing binary")
	}
}
