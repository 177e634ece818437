package types

import (
	"strings"
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   bool
	}{
		{name: "valid alphanumeric", userID: "alice123", want: true},
		{name: "valid with underscore and hyphen", userID: "alice_b-2", want: true},
		{name: "empty", userID: "", want: false},
		{name: "too long", userID: strings.Repeat("a", 51), want: false},
		{name: "max length", userID: strings.Repeat("a", 50), want: true},
		{name: "whitespace", userID: "alice b", want: false},
		{name: "special characters", userID: "alice!", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidUserID(tt.userID); got != tt.want {
				t.Errorf("IsValidUserID(%q) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}

func TestRoom_Validate(t *testing.T) {
	tests := []struct {
		name    string
		room    Room
		wantErr error
	}{
		{name: "valid", room: Room{ID: "r1", Name: "Design Review"}, wantErr: nil},
		{name: "empty name", room: Room{ID: "r1"}, wantErr: ErrInvalidRoomName},
		{name: "name too long", room: Room{ID: "r1", Name: strings.Repeat("a", 201)}, wantErr: ErrInvalidRoomName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.room.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEdit_Validate(t *testing.T) {
	valid := Edit{ID: "e1", Kind: EditInsert, Position: 0, Content: "x", AuthorID: "alice"}

	tests := []struct {
		name    string
		mutate  func(e *Edit)
		wantErr error
	}{
		{name: "valid insert", mutate: func(e *Edit) {}, wantErr: nil},
		{name: "valid delete", mutate: func(e *Edit) { e.Kind = EditDelete; e.Content = ""; e.Length = 1 }, wantErr: nil},
		{name: "valid replace", mutate: func(e *Edit) { e.Kind = EditReplace; e.Length = 1 }, wantErr: nil},
		{name: "unknown kind", mutate: func(e *Edit) { e.Kind = "move" }, wantErr: ErrInvalidEditKind},
		{name: "negative position", mutate: func(e *Edit) { e.Position = -1 }, wantErr: ErrNegativePosition},
		{name: "negative length", mutate: func(e *Edit) { e.Length = -1 }, wantErr: ErrNegativeLength},
		{name: "insert without content", mutate: func(e *Edit) { e.Content = "" }, wantErr: ErrEmptyContent},
		{name: "bad author", mutate: func(e *Edit) { e.AuthorID = "no spaces" }, wantErr: ErrInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			if err := e.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoom_Membership(t *testing.T) {
	r := Room{ID: "r1", Name: "Standup"}

	r.AddMember("alice")
	r.AddMember("bob")
	r.AddMember("alice")
	if len(r.MemberIDs) != 2 {
		t.Fatalf("expected 2 members after duplicate add, got %d", len(r.MemberIDs))
	}
	if !r.HasMember("alice") || !r.HasMember("bob") {
		t.Error("expected alice and bob to be members")
	}

	r.RemoveMember("alice")
	if r.HasMember("alice") {
		t.Error("alice still a member after removal")
	}
	r.RemoveMember("ghost")
	if len(r.MemberIDs) != 1 {
		t.Errorf("expected 1 member, got %d", len(r.MemberIDs))
	}
}

func TestRoom_CanEdit(t *testing.T) {
	tests := []struct {
		name   string
		room   Room
		userID string
		want   bool
	}{
		{
			name:   "public room allows anyone",
			room:   Room{Permissions: Permissions{IsPublic: true}},
			userID: "anyone",
			want:   true,
		},
		{
			name:   "private room allows listed editor",
			room:   Room{Permissions: Permissions{Editors: []string{"alice"}}},
			userID: "alice",
			want:   true,
		},
		{
			name:   "private room rejects others",
			room:   Room{Permissions: Permissions{Editors: []string{"alice"}}},
			userID: "bob",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.room.CanEdit(tt.userID); got != tt.want {
				t.Errorf("CanEdit(%q) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}
