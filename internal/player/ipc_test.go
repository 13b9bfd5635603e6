package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeCommand struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// fakeMPV is a minimal IPC server. handle writes zero or more lines for each
// received command; returning false closes the connection.
type fakeMPV struct {
	t       *testing.T
	socket  string
	ln      net.Listener
	handle  func(cmd fakeCommand, w *bufio.Writer) bool
	mu      sync.Mutex
	seen    []fakeCommand
	accepts int
}

func newFakeMPV(t *testing.T, handle func(cmd fakeCommand, w *bufio.Writer) bool) *fakeMPV {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeMPV{t: t, socket: socket, ln: ln, handle: handle}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeMPV) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.accepts++
		f.mu.Unlock()
		go f.conn(conn)
	}
}

func (f *fakeMPV) conn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		var cmd fakeCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			return
		}
		f.mu.Lock()
		f.seen = append(f.seen, cmd)
		f.mu.Unlock()

		keep := f.handle(cmd, w)
		_ = w.Flush()
		if !keep {
			return
		}
	}
}

func (f *fakeMPV) commands() []fakeCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCommand(nil), f.seen...)
}

func reply(w *bufio.Writer, id int64, data any) {
	payload, _ := json.Marshal(map[string]any{"request_id": id, "error": "success", "data": data})
	w.Write(append(payload, '\n'))
}

func properties(props map[string]any) func(fakeCommand, *bufio.Writer) bool {
	return func(cmd fakeCommand, w *bufio.Writer) bool {
		if len(cmd.Command) == 2 && cmd.Command[0] == "get_property" {
			name, _ := cmd.Command[1].(string)
			v, ok := props[name]
			if !ok {
				fmt.Fprintf(w, `{"request_id":%d,"error":"property unavailable"}`+"\n", cmd.RequestID)
				return true
			}
			reply(w, cmd.RequestID, v)
			return true
		}
		reply(w, cmd.RequestID, nil)
		return true
	}
}

func TestClientNotListening(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second, zerolog.Nop())

	if c.Connect(100 * time.Millisecond) {
		t.Fatal("expected connect to fail without a listener")
	}
	if _, ok := c.SendCommand("get_property", "pause"); ok {
		t.Fatal("expected SendCommand to fail without a listener")
	}
	if st := c.Status(); st.Connected {
		t.Fatalf("expected disconnected status, got %+v", st)
	}
	if got := c.GetFloat("volume", 42); got != 42 {
		t.Fatalf("expected default, got %v", got)
	}
}

func TestClientSkipsEventsAndForeignIDs(t *testing.T) {
	f := newFakeMPV(t, func(cmd fakeCommand, w *bufio.Writer) bool {
		w.WriteString(`{"event":"playback-restart"}` + "\n")
		reply(w, cmd.RequestID+100, "wrong")
		w.WriteString(`{"event":"property-change","id":1,"name":"pause","data":true}` + "\n")
		reply(w, cmd.RequestID, "right")
		return true
	})
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	for i := 0; i < 3; i++ {
		if got := c.GetString("media-title", ""); got != "right" {
			t.Fatalf("call %d: expected matched reply, got %q", i, got)
		}
	}

	cmds := f.commands()
	for i, cmd := range cmds {
		if cmd.RequestID != int64(i+1) {
			t.Fatalf("expected increasing request ids, got %d at %d", cmd.RequestID, i)
		}
	}
}

func TestClientStatus(t *testing.T) {
	f := newFakeMPV(t, properties(map[string]any{
		"pause":       true,
		"time-pos":    12.5,
		"duration":    300.0,
		"volume":      80.0,
		"speed":       1.5,
		"media-title": "Big Buck Bunny",
	}))
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	st := c.Status()
	if !st.Connected || !st.Paused || st.Volume != 80 || st.Speed != 1.5 || st.MediaTitle != "Big Buck Bunny" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Position == nil || *st.Position != 12.5 || st.Duration == nil || *st.Duration != 300 {
		t.Fatalf("unexpected position/duration: %+v", st)
	}
}

func TestClientStatusIdlePlayer(t *testing.T) {
	f := newFakeMPV(t, properties(map[string]any{"pause": false, "volume": 100.0, "speed": 1.0}))
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	st := c.Status()
	if !st.Connected || st.Position != nil || st.Duration != nil {
		t.Fatalf("expected connected idle status, got %+v", st)
	}
}

func TestClientTimeoutTearsDownChannel(t *testing.T) {
	f := newFakeMPV(t, func(fakeCommand, *bufio.Writer) bool { return true })
	c := NewClient(f.socket, 100*time.Millisecond, zerolog.Nop())
	defer c.Close()

	start := time.Now()
	if _, ok := c.SendCommand("get_property", "pause"); ok {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not bounded: %v", elapsed)
	}
	if c.Connected() {
		t.Fatal("expected channel torn down after timeout")
	}
}

func TestClientReconnectsAfterClosedChannel(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	f := newFakeMPV(t, func(cmd fakeCommand, w *bufio.Writer) bool {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return false // drop the connection without answering
		}
		reply(w, cmd.RequestID, 55.0)
		return true
	})
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	if _, ok := c.SendCommand("get_property", "volume"); ok {
		t.Fatal("expected first call to fail")
	}
	if got := c.GetFloat("volume", 0); got != 55 {
		t.Fatalf("expected reconnect and value 55, got %v", got)
	}

	f.mu.Lock()
	accepts := f.accepts
	f.mu.Unlock()
	if accepts != 2 {
		t.Fatalf("expected 2 connections, got %d", accepts)
	}
}

func TestClientMalformedReply(t *testing.T) {
	f := newFakeMPV(t, func(cmd fakeCommand, w *bufio.Writer) bool {
		w.WriteString("not json\n")
		return true
	})
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	if c.SetProperty("pause", true) {
		t.Fatal("expected failure on malformed reply")
	}
	if c.Connected() {
		t.Fatal("expected channel torn down")
	}
}

func TestClientErrorReplyIsNotCommunicationFailure(t *testing.T) {
	f := newFakeMPV(t, properties(map[string]any{}))
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	r, ok := c.SendCommand("get_property", "duration")
	if !ok || r.OK() || r.Error != "property unavailable" {
		t.Fatalf("unexpected reply %+v ok=%v", r, ok)
	}
	if !c.Connected() {
		t.Fatal("error reply must keep the channel")
	}
	if got := c.GetProperty("duration", "none"); got != "none" {
		t.Fatalf("expected default for unavailable property, got %v", got)
	}
}

func TestClientClampsVolumeAndSpeed(t *testing.T) {
	f := newFakeMPV(t, properties(nil))
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	c.SetVolume(150)
	c.SetVolume(-3)
	c.SetSpeed(10)
	c.SetSpeed(0.1)
	if c.Seek(10, "sideways") {
		t.Fatal("expected invalid seek mode to be rejected")
	}
	c.Seek(30, "")

	want := [][]any{
		{"set_property", "volume", 100.0},
		{"set_property", "volume", 0.0},
		{"set_property", "speed", 4.0},
		{"set_property", "speed", 0.25},
		{"seek", 30.0, "absolute"},
	}
	cmds := f.commands()
	if len(cmds) != len(want) {
		t.Fatalf("expected %d commands, got %d: %+v", len(want), len(cmds), cmds)
	}
	for i, cmd := range cmds {
		if fmt.Sprint(cmd.Command) != fmt.Sprint(want[i]) {
			t.Fatalf("command %d = %v, want %v", i, cmd.Command, want[i])
		}
	}
}

func TestClientTransportCommands(t *testing.T) {
	f := newFakeMPV(t, properties(nil))
	c := NewClient(f.socket, time.Second, zerolog.Nop())
	defer c.Close()

	for name, fn := range map[string]func() bool{
		"pause":  c.Pause,
		"resume": c.Resume,
		"toggle": c.TogglePause,
		"stop":   c.Stop,
		"quit":   c.Quit,
	} {
		if !fn() {
			t.Fatalf("%s failed", name)
		}
	}
	if len(f.commands()) != 5 {
		t.Fatalf("expected 5 commands, got %d", len(f.commands()))
	}
}
