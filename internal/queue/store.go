/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/storage"
	"github.com/friendsincode/hearth/internal/telemetry"
)

// Store is the persistent playback queue. Every call reads the authoritative
// row state at write time; nothing is cached between calls.
type Store struct {
	db     *storage.Store
	logger zerolog.Logger
}

// New creates a queue store on top of the resilient storage layer.
func New(db *storage.Store, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logging.Component(logger, "queue"),
	}
}

func (s *Store) model(db *gorm.DB) *gorm.DB {
	return db.Model(&models.QueueItem{})
}

func ordered(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC").Order("id ASC")
}

func countOp(op string) {
	telemetry.QueueOperationsTotal.WithLabelValues(op).Inc()
}

func maxPosition(tx *gorm.DB) (int64, error) {
	var max sql.NullInt64
	err := tx.Model(&models.QueueItem{}).Select("MAX(position)").Row().Scan(&max)
	return max.Int64, err
}

// Add appends a new pending item after every existing position.
func (s *Store) Add(ctx context.Context, url, title string) (*models.QueueItem, error) {
	item := &models.QueueItem{
		URL:        url,
		Title:      title,
		SourceKind: DetectSourceKind(url),
		Status:     models.QueueStatusPending,
	}

	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		max, err := maxPosition(tx)
		if err != nil {
			return err
		}
		item.ID = 0
		item.Position = max + 1
		return tx.Create(item).Error
	})
	if err != nil {
		return nil, fmt.Errorf("add queue item: %w", err)
	}

	countOp("add")
	s.logger.Debug().Int64("item_id", item.ID).Str("url", url).Str("kind", string(item.SourceKind)).Msg("queued")
	return item, nil
}

// Get returns one item by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		return db.First(&item, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return &item, nil
}

// Remove deletes an item regardless of its status.
func (s *Store) Remove(ctx context.Context, id int64) error {
	var affected int64
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		res := db.Delete(&models.QueueItem{}, id)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	countOp("remove")
	return nil
}

func (s *Store) list(ctx context.Context, statuses ...models.QueueStatus) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		q := ordered(db)
		if len(statuses) > 0 {
			q = q.Where("status IN ?", statuses)
		}
		items = items[:0]
		return q.Find(&items).Error
	})
	return items, err
}

// List returns every item in queue order.
func (s *Store) List(ctx context.Context) ([]models.QueueItem, error) {
	items, err := s.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return items, nil
}

// ListPending returns pending items in play order.
func (s *Store) ListPending(ctx context.Context) ([]models.QueueItem, error) {
	items, err := s.list(ctx, models.QueueStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// ListFailed returns failed items in queue order.
func (s *Store) ListFailed(ctx context.Context) ([]models.QueueItem, error) {
	items, err := s.list(ctx, models.QueueStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	return items, nil
}

// Next returns the first pending item, or nil when nothing is waiting.
func (s *Store) Next(ctx context.Context) (*models.QueueItem, error) {
	var items []models.QueueItem
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		items = items[:0]
		return ordered(db).Where("status = ?", models.QueueStatusPending).Limit(1).Find(&items).Error
	})
	if err != nil {
		return nil, fmt.Errorf("next queue item: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// MarkPlaying claims the playing slot for a pending item. The check and the
// write are one statement, so concurrent callers can never produce two
// playing rows.
func (s *Store) MarkPlaying(ctx context.Context, id int64) error {
	var affected int64
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		res := db.Exec(
			`UPDATE queue SET status = ?
			 WHERE id = ? AND status = ?
			 AND NOT EXISTS (SELECT 1 FROM (SELECT id FROM queue WHERE status = ?) AS current_playing)`,
			models.QueueStatusPlaying, id, models.QueueStatusPending, models.QueueStatusPlaying,
		)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("mark playing: %w", err)
	}
	if affected == 1 {
		countOp("mark_playing")
		return nil
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != models.QueueStatusPending {
		return ErrNotPending
	}
	return ErrAlreadyPlaying
}

// update applies fields to one row and reports ErrNotFound when it is missing.
func (s *Store) update(ctx context.Context, op string, id int64, where func(*gorm.DB) *gorm.DB, fields map[string]any) error {
	var affected int64
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		q := s.model(db).Where("id = ?", id)
		if where != nil {
			q = where(q)
		}
		res := q.Updates(fields)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	countOp(op)
	return nil
}

// MarkPlayed records a completed play.
func (s *Store) MarkPlayed(ctx context.Context, id int64) error {
	return s.update(ctx, "mark_played", id, nil, map[string]any{
		"status":       models.QueueStatusPlayed,
		"completed_at": time.Now().UTC(),
	})
}

// MarkSkipped records a user skip.
func (s *Store) MarkSkipped(ctx context.Context, id int64) error {
	return s.update(ctx, "mark_skipped", id, nil, map[string]any{
		"status":       models.QueueStatusSkipped,
		"completed_at": time.Now().UTC(),
	})
}

// MarkPending returns an item to pending for a retry and records why the
// attempt failed.
func (s *Store) MarkPending(ctx context.Context, id int64, errText string) error {
	return s.update(ctx, "mark_pending", id, nil, map[string]any{
		"status":      models.QueueStatusPending,
		"error_count": gorm.Expr("error_count + 1"),
		"last_error":  errText,
	})
}

// MarkFailed gives up on an item.
func (s *Store) MarkFailed(ctx context.Context, id int64, errText string) error {
	return s.update(ctx, "mark_failed", id, nil, map[string]any{
		"status":      models.QueueStatusFailed,
		"error_count": gorm.Expr("error_count + 1"),
		"last_error":  errText,
		"failed_at":   time.Now().UTC(),
	})
}

// SetTitle stores a resolved display title.
func (s *Store) SetTitle(ctx context.Context, id int64, title string) error {
	return s.update(ctx, "set_title", id, nil, map[string]any{"title": title})
}

// Requeue puts an interrupted playing item back to pending at its own slot
// without touching its error fields.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	err := s.update(ctx, "requeue", id, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ?", models.QueueStatusPlaying)
	}, map[string]any{"status": models.QueueStatusPending})
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return nil
	}
	return err
}

// Reorder rearranges pending items. The given ids come first in the given
// order, remaining pending items follow in their current order, and the set
// of position slots occupied by pending items is reused. Ids that are not
// pending are ignored so other items never move.
func (s *Store) Reorder(ctx context.Context, ids []int64) error {
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var pending []models.QueueItem
		if err := ordered(tx).Where("status = ?", models.QueueStatusPending).Find(&pending).Error; err != nil {
			return err
		}

		byID := make(map[int64]bool, len(pending))
		slots := make([]int64, len(pending))
		for i, item := range pending {
			byID[item.ID] = true
			slots[i] = item.Position
		}

		order := make([]int64, 0, len(pending))
		placed := make(map[int64]bool, len(pending))
		for _, id := range ids {
			if byID[id] && !placed[id] {
				order = append(order, id)
				placed[id] = true
			}
		}
		for _, item := range pending {
			if !placed[item.ID] {
				order = append(order, item.ID)
			}
		}

		for i, id := range order {
			if pending[i].ID == id {
				continue
			}
			if err := tx.Model(&models.QueueItem{}).Where("id = ?", id).Update("position", slots[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reorder queue: %w", err)
	}
	countOp("reorder")
	return nil
}

// MoveToFront gives a pending item a position ahead of every other pending item.
func (s *Store) MoveToFront(ctx context.Context, id int64) error {
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.First(&item, id).Error; err != nil {
			return err
		}
		if item.Status != models.QueueStatusPending {
			return ErrNotPending
		}

		var min sql.NullInt64
		if err := tx.Model(&models.QueueItem{}).
			Select("MIN(position)").
			Where("status = ? AND id <> ?", models.QueueStatusPending, id).
			Row().Scan(&min); err != nil {
			return err
		}
		if !min.Valid || item.Position < min.Int64 {
			return nil
		}
		return tx.Model(&item).Update("position", min.Int64-1).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotPending) {
		return err
	}
	if err != nil {
		return fmt.Errorf("move to front: %w", err)
	}
	countOp("move_to_front")
	return nil
}

// Replay sends a finished item back to the tail of the queue.
func (s *Store) Replay(ctx context.Context, id int64) error {
	return s.toTail(ctx, "replay", id, func(item *models.QueueItem) error {
		if !item.Status.Finished() {
			return ErrNotFinished
		}
		return nil
	}, map[string]any{"completed_at": nil})
}

// RetryFailed moves a failed item back to pending at the tail. Error fields
// stay as they are until the next attempt.
func (s *Store) RetryFailed(ctx context.Context, id int64) error {
	return s.toTail(ctx, "retry_failed", id, func(item *models.QueueItem) error {
		if item.Status != models.QueueStatusFailed {
			return ErrNotFailed
		}
		return nil
	}, nil)
}

func (s *Store) toTail(ctx context.Context, op string, id int64, check func(*models.QueueItem) error, extra map[string]any) error {
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.First(&item, id).Error; err != nil {
			return err
		}
		if err := check(&item); err != nil {
			return err
		}
		max, err := maxPosition(tx)
		if err != nil {
			return err
		}

		fields := map[string]any{
			"status":   models.QueueStatusPending,
			"position": max + 1,
		}
		for k, v := range extra {
			fields[k] = v
		}
		return tx.Model(&item).Updates(fields).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, ErrNotFinished), errors.Is(err, ErrNotFailed):
		return err
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	countOp(op)
	return nil
}

func (s *Store) deleteWhere(ctx context.Context, op string, statuses ...models.QueueStatus) (int64, error) {
	var affected int64
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		q := db.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(statuses) > 0 {
			q = q.Where("status IN ?", statuses)
		}
		res := q.Delete(&models.QueueItem{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	countOp(op)
	return affected, nil
}

// ClearPlayed deletes played and skipped items.
func (s *Store) ClearPlayed(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "clear_played", models.QueueStatusPlayed, models.QueueStatusSkipped)
}

// ClearFailed deletes failed items.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "clear_failed", models.QueueStatusFailed)
}

// ClearAll deletes every item, including one that is playing.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "clear_all")
}

// ResetStalePlaying returns items left playing by a previous process to pending.
func (s *Store) ResetStalePlaying(ctx context.Context) (int64, error) {
	var affected int64
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		res := s.model(db).Where("status = ?", models.QueueStatusPlaying).Update("status", models.QueueStatusPending)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("reset stale playing: %w", err)
	}
	if affected > 0 {
		s.logger.Warn().Int64("count", affected).Msg("reset items left playing by previous run")
	}
	return affected, nil
}

// Stats counts items per status.
func (s *Store) Stats(ctx context.Context) (map[models.QueueStatus]int64, error) {
	type row struct {
		Status models.QueueStatus
		Count  int64
	}
	var rows []row
	err := s.db.Do(ctx, func(db *gorm.DB) error {
		rows = rows[:0]
		return s.model(db).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	stats := make(map[models.QueueStatus]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
