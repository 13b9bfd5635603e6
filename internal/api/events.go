package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/hearth/internal/models"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	writeTimeout       = 5 * time.Second
)

func (a *API) handleEventsRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	recent, err := a.events.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("load recent events")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if recent == nil {
		recent = []models.Event{}
	}
	writeJSON(w, http.StatusOK, recent)
}

// handleEventsWS streams every emitted event as a JSON text message with a
// heartbeat ping. A subscriber the bus drops for lagging is disconnected.
func (a *API) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Clients never send anything; CloseRead notices when they go away.
	ctx := conn.CloseRead(r.Context())

	sub := a.events.Subscribe()
	defer a.events.Unsubscribe(sub)

	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return

		case <-ticker.C:
			if err := write(ctx, conn, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}

		case event, ok := <-sub.C:
			if !ok {
				conn.Close(ws.StatusPolicyViolation, "subscriber lagged")
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				a.logger.Error().Err(err).Msg("encode event")
				continue
			}
			if err := write(ctx, conn, payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *ws.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, payload)
}
