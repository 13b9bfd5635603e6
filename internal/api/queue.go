package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/queue"
)

type addRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (req *addRequest) validate(w http.ResponseWriter) bool {
	req.URL = strings.TrimSpace(req.URL)
	req.Title = strings.TrimSpace(req.Title)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return false
	}
	if len(req.URL) > 4096 {
		writeError(w, http.StatusBadRequest, "url_too_long")
		return false
	}
	return true
}

// queueError maps store errors onto status codes.
func (a *API) queueError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, queue.ErrNotFinished):
		writeError(w, http.StatusConflict, "not_finished")
	case errors.Is(err, queue.ErrNotFailed):
		writeError(w, http.StatusConflict, "not_failed")
	case errors.Is(err, queue.ErrNotPending):
		writeError(w, http.StatusConflict, "not_pending")
	default:
		a.logger.Error().Err(err).Str("op", op).Msg("queue operation failed")
		writeError(w, http.StatusInternalServerError, "db_error")
	}
}

func (a *API) writeItems(w http.ResponseWriter, items []models.QueueItem, err error, op string) {
	if err != nil {
		a.queueError(w, err, op)
		return
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	items, err := a.queue.List(r.Context())
	a.writeItems(w, items, err, "list")
}

func (a *API) handleQueuePending(w http.ResponseWriter, r *http.Request) {
	items, err := a.queue.ListPending(r.Context())
	a.writeItems(w, items, err, "list_pending")
}

func (a *API) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	items, err := a.queue.ListFailed(r.Context())
	a.writeItems(w, items, err, "list_failed")
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeJSON(w, r, &req) || !req.validate(w) {
		return
	}
	item, err := a.queue.Add(r.Context(), req.URL, req.Title)
	if err != nil {
		a.queueError(w, err, "add")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := a.queue.Get(r.Context(), id)
	if err != nil {
		a.queueError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.queue.Remove(r.Context(), id); err != nil {
		a.queueError(w, err, "remove")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleQueueReorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids_required")
		return
	}
	if err := a.queue.Reorder(r.Context(), req.IDs); err != nil {
		a.queueError(w, err, "reorder")
		return
	}
	items, err := a.queue.ListPending(r.Context())
	a.writeItems(w, items, err, "list_pending")
}

func (a *API) handleQueueReplay(w http.ResponseWriter, r *http.Request) {
	a.moveToTail(w, r, "replay", a.queue.Replay)
}

func (a *API) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	a.moveToTail(w, r, "retry", a.queue.RetryFailed)
}

func (a *API) moveToTail(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		a.queueError(w, err, op)
		return
	}
	item, err := a.queue.Get(r.Context(), id)
	if err != nil {
		a.queueError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	var (
		n   int64
		err error
	)
	switch chi.URLParam(r, "which") {
	case "played":
		n, err = a.queue.ClearPlayed(r.Context())
	case "failed":
		n, err = a.queue.ClearFailed(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unknown_clear_target")
		return
	}
	if err != nil {
		a.queueError(w, err, "clear")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (a *API) handleQueueClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := a.queue.ClearAll(r.Context())
	if err != nil {
		a.queueError(w, err, "clear_all")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}
