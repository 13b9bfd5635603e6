package models

import (
	"encoding/json"
	"time"
)

// Event is an immutable notification record. Rows are only ever appended.
type Event struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Kind        string    `gorm:"type:varchar(32);not null;index"`
	QueueItemID *int64    `gorm:"index"`
	Title       string    `gorm:"not null"`
	Detail      string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (Event) TableName() string { return "events" }

type eventJSON struct {
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Detail      string `json:"detail"`
	QueueItemID *int64 `json:"queue_item_id"`
	Timestamp   int64  `json:"timestamp"`
}

// MarshalJSON renders the wire shape shared by the push stream and the recent log.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Kind:        e.Kind,
		Title:       e.Title,
		Detail:      e.Detail,
		QueueItemID: e.QueueItemID,
		Timestamp:   e.CreatedAt.Unix(),
	})
}

// UnmarshalJSON reads the wire shape back. The row id is not part of it.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event{
		Kind:        wire.Kind,
		Title:       wire.Title,
		Detail:      wire.Detail,
		QueueItemID: wire.QueueItemID,
		CreatedAt:   time.Unix(wire.Timestamp, 0).UTC(),
	}
	return nil
}
