package types

import "errors"

// Validation errors shared across the engine and relay. Edits that fail
// validation are rejected before any state is mutated.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomName    = errors.New("room name must be 1-200 characters")
	ErrInvalidEditKind    = errors.New("edit kind must be insert, delete, or replace")
	ErrNegativePosition   = errors.New("edit position must not be negative")
	ErrNegativeLength     = errors.New("edit length must not be negative")
	ErrPositionOutOfRange = errors.New("edit position exceeds document length")
	ErrLengthOutOfRange   = errors.New("edit length exceeds remaining document length")
	ErrEmptyContent       = errors.New("insert content cannot be empty")
)
