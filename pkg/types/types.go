package types

import (
	"time"
)

// User statuses tracked by the presence table.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// Edit kinds supported by the edit log.
const (
	EditInsert  = "insert"
	EditDelete  = "delete"
	EditReplace = "replace"
)

// Message kinds carried in room history.
const (
	MessageText     = "text"
	MessageSystem   = "system"
	MessageReaction = "reaction"
)

// CursorPos is a user's cursor location in the shared view.
type CursorPos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Selection is a half-open [Start, End) range over the shared text.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// User is a presence record for a connected participant.
// Created on join, mutated by cursor/selection/heartbeat traffic,
// removed on leave or explicit disconnect.
type User struct {
	ID            string     `json:"id"`
	DisplayName   string     `json:"display_name"`
	ContactHandle string     `json:"contact_handle,omitempty"`
	AvatarRef     string     `json:"avatar_ref,omitempty"`
	ColorTag      string     `json:"color_tag,omitempty"`
	Cursor        *CursorPos `json:"cursor,omitempty"`
	Selection     *Selection `json:"selection,omitempty"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	Status        string     `json:"status"`
}

// Permissions controls who may edit or view a room.
type Permissions struct {
	Editors  []string `json:"editors"`
	Viewers  []string `json:"viewers"`
	IsPublic bool     `json:"is_public"`
}

// Room is a collaboration room. Exactly one Room is current per engine
// instance; applications needing several rooms run several engines.
type Room struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	MemberIDs   []string    `json:"member_ids"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Permissions Permissions `json:"permissions"`
}

// Message is one entry in a room's history. History is append-only,
// most-recent-last; the engine caps retained length by dropping the oldest.
type Message struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	SenderID string    `json:"sender_id"`
	RoomID   string    `json:"room_id"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
}

// Edit is a single operational-transform unit against the shared text.
// Edits are immutable once stored; the log is append-only and replaying it
// in order reproduces the document on every replica.
//
// BasedOn is the length of the log the author had observed when the edit
// was created. The log transforms an incoming edit against every entry
// appended after that point before storing it.
type Edit struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Position  int       `json:"position"`
	Content   string    `json:"content,omitempty"`
	Length    int       `json:"length,omitempty"`
	AuthorID  string    `json:"author_id"`
	BasedOn   int       `json:"based_on"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether userID is in the room's member list.
func (r *Room) HasMember(userID string) bool {
	for _, id := range r.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddMember appends userID if not already present.
func (r *Room) AddMember(userID string) {
	if !r.HasMember(userID) {
		r.MemberIDs = append(r.MemberIDs, userID)
	}
}

// RemoveMember deletes userID from the member list; no-op if absent.
func (r *Room) RemoveMember(userID string) {
	for i, id := range r.MemberIDs {
		if id == userID {
			r.MemberIDs = append(r.MemberIDs[:i], r.MemberIDs[i+1:]...)
			return
		}
	}
}

// CanEdit reports whether userID may submit edits to the room.
func (r *Room) CanEdit(userID string) bool {
	if r.Permissions.IsPublic {
		return true
	}
	for _, id := range r.Permissions.Editors {
		if id == userID {
			return true
		}
	}
	return false
}
