package engine

import "errors"

var (
	ErrNoCurrentUser = errors.New("no current user set")
	ErrNoCurrentRoom = errors.New("no current room")
	ErrEmptyRoomName = errors.New("room name cannot be empty")
)
