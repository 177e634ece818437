package types

import (
	"regexp"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// Validate ensures a room meets naming and ownership requirements.
func (r *Room) Validate() error {
	if len(r.Name) < 1 || len(r.Name) > 200 {
		return ErrInvalidRoomName
	}
	return nil
}

// Validate checks an edit's shape without reference to document state.
// Bounds against the current text are enforced by the edit log, which is
// the only component that knows the document length.
func (e *Edit) Validate() error {
	switch e.Kind {
	case EditInsert, EditDelete, EditReplace:
	default:
		return ErrInvalidEditKind
	}
	if e.Position < 0 {
		return ErrNegativePosition
	}
	if e.Length < 0 {
		return ErrNegativeLength
	}
	if e.Kind == EditInsert && e.Content == "" {
		return ErrEmptyContent
	}
	if !IsValidUserID(e.AuthorID) {
		return ErrInvalidUserID
	}
	return nil
}
