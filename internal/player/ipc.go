/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player drives the external mpv process: its JSON IPC control
// channel and its process lifecycle.
package player

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/telemetry"
)

// DefaultTimeout bounds every request/response round trip.
const DefaultTimeout = 5 * time.Second

// Dialer opens the control channel.
type Dialer func(ctx context.Context, socket string) (net.Conn, error)

func dialUnix(ctx context.Context, socket string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socket)
}

// Reply is a matched response to one command.
type Reply struct {
	Data  json.RawMessage
	Error string
}

// OK reports whether mpv accepted the command.
func (r Reply) OK() bool {
	return r.Error == "" || r.Error == "success"
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type response struct {
	RequestID *int64          `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
}

// Client talks to mpv over its IPC socket. Calls are serialized because the
// response matching assumes a single outstanding request. Communication
// failures tear the channel down and surface as ok=false; the next call
// reconnects.
type Client struct {
	socket  string
	timeout time.Duration
	dial    Dialer
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int64
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the unix socket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// NewClient creates a client for the given socket path. It does not connect.
func NewClient(socket string, timeout time.Duration, logger zerolog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		socket:  socket,
		timeout: timeout,
		dial:    dialUnix,
		logger:  logging.Component(logger, "player_ipc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the channel. A player that is not listening yet is a
// normal condition and yields false.
func (c *Client) Connect(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(timeout)
}

func (c *Client) connectLocked(timeout time.Duration) bool {
	if c.conn != nil {
		return true
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := c.dial(ctx, c.socket)
	if err != nil {
		c.logger.Debug().Err(err).Str("socket", c.socket).Msg("player not reachable")
		return false
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.nextID = 0
	c.logger.Debug().Str("socket", c.socket).Msg("player channel connected")
	return true
}

// Connected reports whether a channel is currently held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the channel down. The next call reconnects.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Client) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func (c *Client) fail(err error, msg string) {
	telemetry.PlayerIPCFailuresTotal.Inc()
	c.logger.Debug().Err(err).Msg(msg)
	c.teardownLocked()
}

// SendCommand sends one command and waits for the response carrying its
// request id. Asynchronous events and responses to other ids are discarded.
func (c *Client) SendCommand(args ...any) (Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectLocked(c.timeout) {
		return Reply{}, false
	}

	c.nextID++
	id := c.nextID

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode player command")
		return Reply{}, false
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		c.fail(err, "set deadline")
		return Reply{}, false
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		c.fail(err, "write player command")
		return Reply{}, false
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			c.fail(err, "read player response")
			return Reply{}, false
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.fail(err, "decode player response")
			return Reply{}, false
		}
		if resp.RequestID == nil {
			if resp.Event != "" {
				c.logger.Debug().Str("event", resp.Event).Msg("player event")
			}
			continue
		}
		if *resp.RequestID != id {
			continue
		}
		return Reply{Data: resp.Data, Error: resp.Error}, true
	}
}

// command sends a command and reports whether mpv accepted it.
func (c *Client) command(args ...any) bool {
	reply, ok := c.SendCommand(args...)
	return ok && reply.OK()
}

// GetProperty returns the decoded property value, or def when it cannot be read.
func (c *Client) GetProperty(name string, def any) any {
	reply, ok := c.SendCommand("get_property", name)
	if !ok || !reply.OK() || len(reply.Data) == 0 {
		return def
	}
	var v any
	if err := json.Unmarshal(reply.Data, &v); err != nil || v == nil {
		return def
	}
	return v
}

func getTyped[T any](c *Client, name string, def T) (T, bool) {
	reply, ok := c.SendCommand("get_property", name)
	if !ok || !reply.OK() || len(reply.Data) == 0 {
		return def, false
	}
	var v *T
	if err := json.Unmarshal(reply.Data, &v); err != nil || v == nil {
		return def, false
	}
	return *v, true
}

// GetFloat reads a numeric property.
func (c *Client) GetFloat(name string, def float64) float64 {
	v, _ := getTyped(c, name, def)
	return v
}

// GetBool reads a flag property.
func (c *Client) GetBool(name string, def bool) bool {
	v, _ := getTyped(c, name, def)
	return v
}

// GetString reads a string property.
func (c *Client) GetString(name, def string) string {
	v, _ := getTyped(c, name, def)
	return v
}

// SetProperty writes a property.
func (c *Client) SetProperty(name string, value any) bool {
	return c.command("set_property", name, value)
}

// Pause pauses playback.
func (c *Client) Pause() bool { return c.SetProperty("pause", true) }

// Resume resumes playback.
func (c *Client) Resume() bool { return c.SetProperty("pause", false) }

// TogglePause flips the pause state.
func (c *Client) TogglePause() bool { return c.command("cycle", "pause") }

// Stop stops the current file.
func (c *Client) Stop() bool { return c.command("stop") }

// Quit asks mpv to exit.
func (c *Client) Quit() bool { return c.command("quit") }

// Seek modes accepted by mpv.
const (
	SeekRelative        = "relative"
	SeekAbsolute        = "absolute"
	SeekAbsolutePercent = "absolute-percent"
)

// ValidSeekMode reports whether mode is one mpv understands.
func ValidSeekMode(mode string) bool {
	switch mode {
	case SeekRelative, SeekAbsolute, SeekAbsolutePercent:
		return true
	}
	return false
}

// Seek moves the playback position. An empty mode means absolute.
func (c *Client) Seek(position float64, mode string) bool {
	if mode == "" {
		mode = SeekAbsolute
	}
	if !ValidSeekMode(mode) {
		return false
	}
	return c.command("seek", position, mode)
}

// Volume and speed ranges.
const (
	MinVolume = 0.0
	MaxVolume = 100.0
	MinSpeed  = 0.25
	MaxSpeed  = 4.0
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetVolume sets the volume, clamped to 0..100.
func (c *Client) SetVolume(volume float64) bool {
	return c.SetProperty("volume", clamp(volume, MinVolume, MaxVolume))
}

// SetSpeed sets the playback speed, clamped to 0.25..4.0.
func (c *Client) SetSpeed(speed float64) bool {
	return c.SetProperty("speed", clamp(speed, MinSpeed, MaxSpeed))
}
