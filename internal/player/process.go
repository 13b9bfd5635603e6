/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
)

// Handle is a running player process.
type Handle interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed. A signalled process reports -1.
	ExitCode() int
	// Terminate interrupts the process and kills it after the grace period.
	Terminate()
	// ErrorText classifies a failed run, best effort.
	ErrorText() string
}

// Launcher starts one player process per queue item.
type Launcher interface {
	Launch(ctx context.Context, item models.QueueItem) (Handle, error)
}

// LauncherConfig describes how mpv is started.
type LauncherConfig struct {
	Bin       string
	Socket    string
	LogDir    string
	ExtraArgs []string
	KillGrace time.Duration
}

// Stream profiles passed to mpv's ytdl hook.
const (
	videoFormat = "bestvideo[height<=?1080]+bestaudio/best"
	liveFormat  = "best[height<=?480]/worst"
)

// MPVLauncher starts mpv processes.
type MPVLauncher struct {
	cfg    LauncherConfig
	logger zerolog.Logger
}

// NewMPVLauncher creates a launcher.
func NewMPVLauncher(cfg LauncherConfig, logger zerolog.Logger) *MPVLauncher {
	if cfg.Bin == "" {
		cfg.Bin = "mpv"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 3 * time.Second
	}
	return &MPVLauncher{cfg: cfg, logger: logging.Component(logger, "player_process")}
}

// Args builds the mpv command line for an item.
func (l *MPVLauncher) Args(item models.QueueItem, logPath string) []string {
	args := []string{
		"--no-terminal",
		"--idle=no",
		"--input-ipc-server=" + l.cfg.Socket,
	}

	switch item.SourceKind {
	case models.SourceLive:
		args = append(args, "--ytdl-format="+liveFormat, "--cache=yes", "--demuxer-readahead-secs=10")
	case models.SourceVideo:
		args = append(args, "--ytdl-format="+videoFormat)
	}
	if item.Title != "" {
		args = append(args, "--force-media-title="+item.Title)
	}
	if logPath != "" {
		args = append(args, "--log-file="+logPath)
	}

	args = append(args, l.cfg.ExtraArgs...)
	return append(args, "--", item.URL)
}

func (l *MPVLauncher) logPath(item models.QueueItem) string {
	if l.cfg.LogDir == "" {
		return ""
	}
	return filepath.Join(l.cfg.LogDir, fmt.Sprintf("mpv-%d.log", item.ID))
}

// Launch starts mpv for the item. Cancelling ctx interrupts the process and
// kills it after the grace period.
func (l *MPVLauncher) Launch(ctx context.Context, item models.QueueItem) (Handle, error) {
	logPath := l.logPath(item)
	if logPath != "" {
		if err := os.MkdirAll(l.cfg.LogDir, 0o755); err != nil {
			l.logger.Warn().Err(err).Str("dir", l.cfg.LogDir).Msg("create player log dir")
			logPath = ""
		} else {
			_ = os.Remove(logPath)
		}
	}

	cmd := exec.CommandContext(ctx, l.cfg.Bin, l.Args(item, logPath)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.cfg.KillGrace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	p := &Process{
		cmd:     cmd,
		done:    make(chan struct{}),
		grace:   l.cfg.KillGrace,
		logPath: logPath,
		started: time.Now(),
	}

	go func() {
		err := cmd.Wait()
		p.exitCode = exitCode(cmd, err)
		close(p.done)
		l.logger.Debug().
			Int64("item_id", item.ID).
			Int("exit_code", p.exitCode).
			Dur("elapsed", time.Since(p.started)).
			Msg("player exited")
	}()

	l.logger.Info().Int64("item_id", item.ID).Str("kind", string(item.SourceKind)).Int("pid", cmd.Process.Pid).Msg("player started")
	return p, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Process is a running mpv instance.
type Process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	grace   time.Duration
	logPath string
	started time.Time

	exitCode int
	termOnce sync.Once
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the exit status once Done is closed.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Terminate sends an interrupt, waits the grace period, then kills.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case <-time.After(p.grace):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.done
		case <-p.done:
		}
	})
}

// ErrorText classifies the run from the debug log, falling back to the exit code.
func (p *Process) ErrorText() string {
	return ClassifyExit(p.ExitCode(), p.logPath)
}
