package api

import (
	"net/http"

	"github.com/friendsincode/hearth/internal/player"
)

// transport wraps a bool-returning player command. false means the control
// channel could not be reached.
func (a *API) transport(fn func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !fn() {
			writeError(w, http.StatusServiceUnavailable, "player_unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (a *API) handlePlayerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.player.Status(r.Context()))
}

func (a *API) handlePlayNow(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeJSON(w, r, &req) || !req.validate(w) {
		return
	}
	item, err := a.player.PlayNow(r.Context(), req.URL, req.Title)
	if err != nil {
		a.queueError(w, err, "play_now")
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	if !a.player.Skip() {
		writeError(w, http.StatusConflict, "nothing_playing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.player.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleResumeAfterStop(w http.ResponseWriter, r *http.Request) {
	a.player.ResumeAfterStop()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position *float64 `json:"position"`
		Mode     string   `json:"mode"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Position == nil {
		writeError(w, http.StatusBadRequest, "position_required")
		return
	}
	if req.Mode == "" {
		req.Mode = player.SeekAbsolute
	}
	if !player.ValidSeekMode(req.Mode) {
		writeError(w, http.StatusBadRequest, "invalid_mode")
		return
	}
	a.transport(func() bool { return a.player.Seek(*req.Position, req.Mode) })(w, r)
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Volume == nil || *req.Volume < 0 || *req.Volume > 100 {
		writeError(w, http.StatusBadRequest, "invalid_volume")
		return
	}
	a.transport(func() bool { return a.player.SetVolume(*req.Volume) })(w, r)
}

func (a *API) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Speed == nil || *req.Speed < 0.25 || *req.Speed > 4 {
		writeError(w, http.StatusBadRequest, "invalid_speed")
		return
	}
	a.transport(func() bool { return a.player.SetSpeed(*req.Speed) })(w, r)
}

func (a *API) handleTimerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.player.TimerState())
}

func (a *API) handleStopAfterCurrent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled_required")
		return
	}
	a.player.SetStopAfterCurrent(*req.Enabled)
	writeJSON(w, http.StatusOK, a.player.TimerState())
}

// maxStopTimerMinutes is one day.
const maxStopTimerMinutes = 24 * 60

func (a *API) handleStopTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes *float64 `json:"minutes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Minutes == nil || *req.Minutes < 0 || *req.Minutes > maxStopTimerMinutes {
		writeError(w, http.StatusBadRequest, "invalid_minutes")
		return
	}
	a.player.SetStopTimer(*req.Minutes)
	writeJSON(w, http.StatusOK, a.player.TimerState())
}
