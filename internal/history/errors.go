package history

import "errors"

var (
	// ErrArchiveClosed is returned for operations after Close.
	ErrArchiveClosed = errors.New("archive is closed")

	// ErrRoomNotFound is returned when a room ID has no archived row.
	ErrRoomNotFound = errors.New("room not found")

	// ErrWriteTimeout is returned when a queued write does not complete in
	// time.
	ErrWriteTimeout = errors.New("archive write timeout")
)
