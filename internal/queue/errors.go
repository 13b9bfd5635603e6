package queue

import "errors"

var (
	// ErrNotFound is returned when the referenced queue item does not exist.
	ErrNotFound = errors.New("queue item not found")
	// ErrNotPending is returned when an operation requires a pending item.
	ErrNotPending = errors.New("queue item is not pending")
	// ErrAlreadyPlaying is returned when another item already holds the playing slot.
	ErrAlreadyPlaying = errors.New("another queue item is playing")
	// ErrNotFinished is returned by Replay for items that have not finished.
	ErrNotFinished = errors.New("queue item has not finished")
	// ErrNotFailed is returned by RetryFailed for items that are not failed.
	ErrNotFailed = errors.New("queue item is not failed")
)
