package editlog

import (
	"roomsync/pkg/types"
)

// transformAgainst rewrites edit e so it applies after o, where o is a
// concurrent edit that e's author had not observed. Position shifting
// follows the single-axis rule: an earlier insert pushes later positions
// right, an earlier delete pulls them left (never past the deletion
// point), and a replace shifts by its net length change.
//
// Insert-insert ties at the same position are broken by author ID: the
// lexicographically smaller author keeps the left slot. Every replica
// applies the same rule, so all replicas agree on the final order.
//
// When an insert lands strictly inside the span a concurrent delete or
// replace removes, the plain position shift is not order-independent, so
// a stronger rule applies: a removal transformed against an insert inside
// its span swallows it by growing its length, and an insert transformed
// against a removal covering it collapses to an empty insert at the span
// start. Either order then removes the inserted text.
func transformAgainst(e, o types.Edit) types.Edit {
	switch o.Kind {
	case types.EditInsert:
		gain := len(o.Content)
		if e.Position > o.Position {
			e.Position += gain
		} else if e.Position == o.Position {
			if e.Kind != types.EditInsert || e.AuthorID > o.AuthorID {
				e.Position += gain
			}
		} else if e.Kind != types.EditInsert && o.Position < e.Position+e.Length {
			e.Length += gain
		}

	case types.EditDelete:
		if e.Kind == types.EditInsert && insideSpan(e.Position, o) {
			e.Position = o.Position
			e.Content = ""
		} else if e.Position > o.Position {
			e.Position = maxInt(o.Position, e.Position-o.Length)
		}

	case types.EditReplace:
		if e.Kind == types.EditInsert && insideSpan(e.Position, o) {
			e.Position = o.Position
			e.Content = ""
		} else if e.Position > o.Position {
			delta := len(o.Content) - o.Length
			e.Position = maxInt(o.Position, e.Position+delta)
		}
	}
	return e
}

// insideSpan reports whether pos falls strictly inside the range o
// removes. Positions at either boundary survive the removal.
func insideSpan(pos int, o types.Edit) bool {
	return pos > o.Position && pos < o.Position+o.Length
}

// applyEdit folds a single edit into s. Positions and extents are assumed
// to be within bounds; Append clamps transformed edits before applying.
func applyEdit(s string, e types.Edit) string {
	switch e.Kind {
	case types.EditInsert:
		return s[:e.Position] + e.Content + s[e.Position:]
	case types.EditDelete:
		return s[:e.Position] + s[e.Position+e.Length:]
	case types.EditReplace:
		return s[:e.Position] + e.Content + s[e.Position+e.Length:]
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
