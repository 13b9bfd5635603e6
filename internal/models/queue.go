package models

import "time"

// QueueStatus enumerates the lifecycle of a playback request.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusPlaying QueueStatus = "playing"
	QueueStatusPlayed  QueueStatus = "played"
	QueueStatusSkipped QueueStatus = "skipped"
	QueueStatusFailed  QueueStatus = "failed"
)

// Finished reports whether the status is terminal until an explicit replay.
func (s QueueStatus) Finished() bool {
	return s == QueueStatusPlayed || s == QueueStatusSkipped || s == QueueStatusFailed
}

// SourceKind describes how the player should treat a source.
type SourceKind string

const (
	SourceVideo SourceKind = "video" // streaming video site, resolved by yt-dlp
	SourceLive  SourceKind = "live"  // live stream, played with a lower quality profile
	SourceLocal SourceKind = "local" // file on the device
)

// QueueItem is one playback request.
type QueueItem struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	URL         string      `gorm:"not null" json:"url"`
	Title       string      `json:"title"`
	SourceKind  SourceKind  `gorm:"type:varchar(16);not null" json:"source_kind"`
	Status      QueueStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Position    int64       `gorm:"not null;index" json:"position"`
	ErrorCount  int         `gorm:"not null;default:0" json:"error_count"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	FailedAt    *time.Time  `json:"failed_at,omitempty"`
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (QueueItem) TableName() string { return "queue" }

// DisplayTitle falls back to the URL while a title is unresolved.
func (q *QueueItem) DisplayTitle() string {
	if q.Title != "" {
		return q.Title
	}
	return q.URL
}
