package playout

import (
	"context"
	"time"

	"github.com/friendsincode/hearth/internal/events"
)

// TimerState reports the ephemeral stop controls.
type TimerState struct {
	StopAfterCurrent   bool       `json:"stop_after_current"`
	StopTimerRemaining *float64   `json:"stop_timer_remaining"`
	StopAt             *time.Time `json:"stop_at"`
}

// SetStopAfterCurrent toggles whether the loop idles once the current item ends.
func (d *Director) SetStopAfterCurrent(enabled bool) {
	d.stopAfterCurrent.Store(enabled)
	d.logger.Info().Bool("enabled", enabled).Msg("stop after current updated")
}

// SetStopTimer sets an absolute deadline minutes from now. Zero or negative
// clears it.
func (d *Director) SetStopTimer(minutes float64) {
	if minutes <= 0 {
		d.deadline.Store(0)
		d.logger.Info().Msg("stop timer cleared")
		return
	}
	at := time.Now().Add(time.Duration(minutes * float64(time.Minute)))
	d.deadline.Store(at.UnixNano())
	d.logger.Info().Time("stop_at", at).Msg("stop timer set")
}

// TimerState returns the current stop controls.
func (d *Director) TimerState() TimerState {
	st := TimerState{StopAfterCurrent: d.stopAfterCurrent.Load()}
	if ns := d.deadline.Load(); ns != 0 {
		at := time.Unix(0, ns)
		remaining := time.Until(at).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		st.StopAt = &at
		st.StopTimerRemaining = &remaining
	}
	return st
}

func (d *Director) timerExpired(now time.Time) bool {
	ns := d.deadline.Load()
	return ns != 0 && now.UnixNano() >= ns
}

// expireTimer clears the deadline and stop-after-current and halts the loop.
// A running play is interrupted by the caller.
func (d *Director) expireTimer(ctx context.Context) {
	if d.deadline.Swap(0) == 0 {
		return
	}
	d.stopAfterCurrent.Store(false)
	d.stopRequested.Store(true)
	d.halted.Store(true)
	d.logger.Info().Msg("stop timer expired")
	d.bus.Emit(ctx, events.KindPlayback, "Stop timer expired", "playback halted until resumed", nil)
}
