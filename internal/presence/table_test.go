package presence

import (
	"testing"
	"time"

	"roomsync/pkg/types"
)

func TestTable_UpsertCreatesWithDefaults(t *testing.T) {
	table := NewTable()
	table.Upsert(types.User{ID: "u1", DisplayName: "Alice"})

	user, ok := table.Get("u1")
	if !ok {
		t.Fatal("user not found after upsert")
	}
	if user.Status != types.StatusOnline {
		t.Errorf("expected default status online, got %s", user.Status)
	}
	if user.LastSeenAt.IsZero() {
		t.Error("expected LastSeenAt to be set")
	}
}

func TestTable_UpsertMergePreservesCursor(t *testing.T) {
	table := NewTable()
	table.Upsert(types.User{ID: "u1", DisplayName: "Alice"})
	table.SetCursor("u1", types.CursorPos{X: 3, Y: 7})

	// A profile update without cursor data must not clear the cursor.
	table.Upsert(types.User{ID: "u1", DisplayName: "Alice B"})

	user, _ := table.Get("u1")
	if user.DisplayName != "Alice B" {
		t.Errorf("display name not updated: %s", user.DisplayName)
	}
	if user.Cursor == nil || user.Cursor.X != 3 || user.Cursor.Y != 7 {
		t.Errorf("cursor clobbered by merge: %+v", user.Cursor)
	}
}

func TestTable_RemoveIsIdempotent(t *testing.T) {
	table := NewTable()
	table.Upsert(types.User{ID: "u1"})
	table.Remove("u1")
	table.Remove("u1")
	table.Remove("never_existed")

	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d users", table.Len())
	}
}

func TestTable_TouchRevivesAwayUser(t *testing.T) {
	table := NewTable()
	now := time.Now()
	table.Upsert(types.User{ID: "u1", Status: types.StatusAway, LastSeenAt: now.Add(-time.Minute)})

	if !table.Touch("u1", now) {
		t.Fatal("Touch returned false for known user")
	}
	user, _ := table.Get("u1")
	if user.Status != types.StatusOnline {
		t.Errorf("expected online after touch, got %s", user.Status)
	}
	if !user.LastSeenAt.Equal(now) {
		t.Errorf("LastSeenAt not updated: %v", user.LastSeenAt)
	}

	if table.Touch("unknown", now) {
		t.Error("Touch returned true for unknown user")
	}
}

func TestTable_ExpireStaleReportsOncePerCrossing(t *testing.T) {
	table := NewTable()
	base := time.Now()
	table.Upsert(types.User{ID: "stale", LastSeenAt: base})
	table.Upsert(types.User{ID: "fresh", LastSeenAt: base})

	threshold := 30 * time.Second

	// Before the threshold nothing transitions.
	if ids := table.ExpireStale(threshold, base.Add(10*time.Second)); len(ids) != 0 {
		t.Errorf("unexpected transitions before threshold: %v", ids)
	}

	// Keep "fresh" alive, let "stale" cross the threshold.
	table.Touch("fresh", base.Add(40*time.Second))
	ids := table.ExpireStale(threshold, base.Add(45*time.Second))
	if len(ids) != 1 || ids[0] != "stale" {
		t.Fatalf("expected [stale], got %v", ids)
	}

	// Subsequent sweeps must not report the same crossing again.
	if ids := table.ExpireStale(threshold, base.Add(50*time.Second)); len(ids) != 0 {
		t.Errorf("stale user reported twice: %v", ids)
	}

	// The user is marked away, not deleted.
	user, ok := table.Get("stale")
	if !ok {
		t.Fatal("expired user was deleted")
	}
	if user.Status != types.StatusAway {
		t.Errorf("expected away, got %s", user.Status)
	}
}

func TestTable_ExpireThenTouchThenExpireAgain(t *testing.T) {
	table := NewTable()
	base := time.Now()
	table.Upsert(types.User{ID: "u1", LastSeenAt: base})
	threshold := 30 * time.Second

	table.ExpireStale(threshold, base.Add(time.Minute))
	table.Touch("u1", base.Add(time.Minute))

	// A fresh crossing after revival is reported again.
	ids := table.ExpireStale(threshold, base.Add(2*time.Minute))
	if len(ids) != 1 || ids[0] != "u1" {
		t.Errorf("expected revived user to expire again, got %v", ids)
	}
}

func TestTable_ResetSeedsMembers(t *testing.T) {
	table := NewTable()
	table.Upsert(types.User{ID: "old"})

	table.Reset([]types.User{
		{ID: "a", DisplayName: "A"},
		{ID: "b", DisplayName: "B"},
		{ID: "c", DisplayName: "C"},
	})

	if table.Len() != 3 {
		t.Fatalf("expected 3 users after reset, got %d", table.Len())
	}
	if _, ok := table.Get("old"); ok {
		t.Error("reset kept stale record")
	}
	for _, id := range []string{"a", "b", "c"} {
		user, ok := table.Get(id)
		if !ok {
			t.Errorf("seeded user %s missing", id)
			continue
		}
		if user.Status != types.StatusOnline {
			t.Errorf("seeded user %s not online: %s", id, user.Status)
		}
	}
}

func TestTable_SetSelection(t *testing.T) {
	table := NewTable()
	table.Upsert(types.User{ID: "u1"})

	if !table.SetSelection("u1", types.Selection{Start: 2, End: 9}) {
		t.Fatal("SetSelection returned false for known user")
	}
	user, _ := table.Get("u1")
	if user.Selection == nil || user.Selection.Start != 2 || user.Selection.End != 9 {
		t.Errorf("selection not stored: %+v", user.Selection)
	}

	if table.SetSelection("unknown", types.Selection{}) {
		t.Error("SetSelection returned true for unknown user")
	}
}
