// Package idgen produces identifiers for edits, messages, and rooms.
package idgen

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewID returns an identifier unique within a session lifetime. IDs from
// the same source sort lexicographically in creation order (KSUIDs embed a
// timestamp ahead of 16 random bytes), so two distinct edits cannot
// silently merge and same-source ordering falls out of a string compare.
// Never blocks and never fails.
func NewID() string {
	return ksuid.New().String()
}

// NewRoomID returns a random identifier for rooms, which have no ordering
// requirement.
func NewRoomID() string {
	return uuid.New().String()
}
