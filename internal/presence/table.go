// Package presence tracks connected users, their cursor/selection state,
// and liveness. The table is a pure data structure: it fires no events
// itself; the engine publishes bus events after mutating it.
package presence

import (
	"sync"
	"time"

	"roomsync/pkg/types"
)

// Table holds presence records keyed by user ID.
type Table struct {
	mu    sync.RWMutex
	users map[string]*types.User
}

// NewTable creates an empty presence table.
func NewTable() *Table {
	return &Table{users: make(map[string]*types.User)}
}

// Upsert overwrite-merges a user record, creating it if absent. Zero-value
// fields on the incoming record do not clobber known state: a missing
// cursor or selection leaves the existing one in place.
func (t *Table) Upsert(user types.User) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.users[user.ID]
	if !ok {
		if user.Status == "" {
			user.Status = types.StatusOnline
		}
		if user.LastSeenAt.IsZero() {
			user.LastSeenAt = time.Now()
		}
		u := user
		t.users[user.ID] = &u
		return
	}

	existing.DisplayName = user.DisplayName
	if user.ContactHandle != "" {
		existing.ContactHandle = user.ContactHandle
	}
	if user.AvatarRef != "" {
		existing.AvatarRef = user.AvatarRef
	}
	if user.ColorTag != "" {
		existing.ColorTag = user.ColorTag
	}
	if user.Cursor != nil {
		existing.Cursor = user.Cursor
	}
	if user.Selection != nil {
		existing.Selection = user.Selection
	}
	if user.Status != "" {
		existing.Status = user.Status
	}
	if !user.LastSeenAt.IsZero() {
		existing.LastSeenAt = user.LastSeenAt
	}
}

// Remove deletes a user; no-op if absent.
func (t *Table) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// Touch updates LastSeenAt and revives away/offline users to online.
// Returns false if the user is unknown.
func (t *Table) Touch(userID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, ok := t.users[userID]
	if !ok {
		return false
	}
	user.LastSeenAt = at
	if user.Status != types.StatusOnline {
		user.Status = types.StatusOnline
	}
	return true
}

// SetCursor updates a user's cursor position. Returns false if unknown.
func (t *Table) SetCursor(userID string, cursor types.CursorPos) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, ok := t.users[userID]
	if !ok {
		return false
	}
	c := cursor
	user.Cursor = &c
	user.LastSeenAt = time.Now()
	return true
}

// SetSelection updates a user's selection range. Returns false if unknown.
func (t *Table) SetSelection(userID string, sel types.Selection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, ok := t.users[userID]
	if !ok {
		return false
	}
	s := sel
	user.Selection = &s
	user.LastSeenAt = time.Now()
	return true
}

// ExpireStale transitions online users whose last heartbeat is older than
// threshold to away, and returns the IDs it transitioned. Users already
// away are not reported again, so each threshold crossing is reported
// exactly once. Nothing is ever deleted here; only an explicit leave or
// disconnect removes a record.
func (t *Table) ExpireStale(threshold time.Duration, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var transitioned []string
	for id, user := range t.users {
		if user.Status != types.StatusOnline {
			continue
		}
		if now.Sub(user.LastSeenAt) > threshold {
			user.Status = types.StatusAway
			transitioned = append(transitioned, id)
		}
	}
	return transitioned
}

// Get returns a copy of the user record, if present.
func (t *Table) Get(userID string) (types.User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	user, ok := t.users[userID]
	if !ok {
		return types.User{}, false
	}
	return *user, true
}

// List returns copies of all records.
func (t *Table) List() []types.User {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]types.User, 0, len(t.users))
	for _, user := range t.users {
		users = append(users, *user)
	}
	return users
}

// Len returns the number of tracked users.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// Reset clears the table and seeds it with the given users. Used when a
// room_joined echo carries the authoritative member list.
func (t *Table) Reset(users []types.User) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.users = make(map[string]*types.User, len(users))
	for _, user := range users {
		u := user
		if u.Status == "" {
			u.Status = types.StatusOnline
		}
		if u.LastSeenAt.IsZero() {
			u.LastSeenAt = time.Now()
		}
		t.users[u.ID] = &u
	}
}

// Clear removes all records.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = make(map[string]*types.User)
}
