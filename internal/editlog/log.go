// Package editlog maintains an ordered, append-only log of edit operations
// over a shared text and resolves concurrent edits with an operational
// transform so every replica converges to the same document.
package editlog

import (
	"sync"

	"roomsync/pkg/types"
)

// Log is the single source of truth for document state. The text is a
// derived view: folding the full log over an empty string reproduces it
// exactly, and the cached value exists only to avoid replaying on every
// read.
type Log struct {
	mu      sync.RWMutex
	entries []types.Edit
	text    string
	byID    map[string]int // edit ID -> log index, for duplicate suppression
}

// New creates an empty log.
func New() *Log {
	return &Log{byID: make(map[string]int)}
}

// Append validates edit, transforms it against every log entry it did not
// causally observe, applies it, and stores it. The returned edit is the
// stored (possibly transformed) form, which is what should be transmitted
// to other participants.
//
// Edits the author had already observed (entries before edit.BasedOn, and
// the author's own prior entries) are never re-transformed against. An
// edit whose ID is already in the log is returned as stored without being
// applied again, so the author's replica does not double-apply its own
// edit when the relay echoes it back.
//
// Validation failures leave the log untouched; partial application cannot
// happen.
func (l *Log) Append(edit types.Edit) (types.Edit, error) {
	if err := edit.Validate(); err != nil {
		return types.Edit{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.byID[edit.ID]; ok {
		return l.entries[i], nil
	}

	basedOn := edit.BasedOn
	if basedOn < 0 {
		basedOn = 0
	}
	if basedOn > len(l.entries) {
		basedOn = len(l.entries)
	}

	if basedOn == len(l.entries) {
		// Parented directly off the current state: bounds are checked
		// strictly and violations are the caller's error.
		if err := l.checkBounds(edit); err != nil {
			return types.Edit{}, err
		}
	} else {
		for _, prior := range l.entries[basedOn:] {
			if prior.AuthorID == edit.AuthorID {
				// The author observed their own earlier edits by
				// construction; re-transforming against them would
				// double-shift.
				continue
			}
			edit = transformAgainst(edit, prior)
		}
		edit = l.clamp(edit)
	}

	l.text = applyEdit(l.text, edit)
	l.entries = append(l.entries, edit)
	l.byID[edit.ID] = len(l.entries) - 1
	return edit, nil
}

// checkBounds validates an untransformed edit against the current text.
func (l *Log) checkBounds(edit types.Edit) error {
	n := len(l.text)
	switch edit.Kind {
	case types.EditInsert:
		if edit.Position > n {
			return types.ErrPositionOutOfRange
		}
	case types.EditDelete, types.EditReplace:
		if edit.Position > n {
			return types.ErrPositionOutOfRange
		}
		if edit.Position+edit.Length > n {
			return types.ErrLengthOutOfRange
		}
	}
	return nil
}

// clamp forces a transformed edit into the current text's bounds. Remote
// edits that raced a concurrent deletion can reference text that no longer
// exists; their effect shrinks rather than failing, and a fully collapsed
// edit still occupies a log slot so replay stays deterministic.
func (l *Log) clamp(edit types.Edit) types.Edit {
	n := len(l.text)
	edit.Position = minInt(edit.Position, n)
	if edit.Kind == types.EditDelete || edit.Kind == types.EditReplace {
		edit.Length = minInt(edit.Length, n-edit.Position)
	}
	return edit
}

// CurrentText returns the document derived from the log.
func (l *Log) CurrentText() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.text
}

// Replay folds the full log from scratch and returns the result. It must
// always equal CurrentText; the engine's tests rely on this to catch cache
// drift.
func (l *Log) Replay() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := ""
	for _, e := range l.entries {
		s = applyEdit(s, e)
	}
	return s
}

// Len returns the number of stored edits.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the log in order.
func (l *Log) Entries() []types.Edit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Edit, len(l.entries))
	copy(out, l.entries)
	return out
}

// Contains reports whether an edit ID is already stored.
func (l *Log) Contains(editID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byID[editID]
	return ok
}
