package wire

import (
	"errors"
	"testing"

	"roomsync/pkg/types"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindMessage, "room1", "alice", ChatPayload{
		Message: types.Message{ID: "m1", Kind: types.MessageText, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.V != Version {
		t.Errorf("expected version %d, got %d", Version, env.V)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Type != KindMessage || decoded.RoomID != "room1" || decoded.SenderID != "alice" {
		t.Errorf("decoded envelope mismatch: %+v", decoded)
	}

	var payload ChatPayload
	if err := decoded.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.Message.Content != "hello" {
		t.Errorf("expected content %q, got %q", "hello", payload.Message.Content)
	}
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(KindPing, "", "alice", nil)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if len(env.Payload) != 0 {
		t.Errorf("expected empty payload, got %s", env.Payload)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{name: "not json", data: "{{", want: nil},
		{name: "missing type", data: `{"v":1,"room_id":"r1"}`, want: ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodePayload_Missing(t *testing.T) {
	env := &Envelope{V: Version, Type: KindEdit}
	var payload EditPayload
	if err := env.DecodePayload(&payload); !errors.Is(err, ErrMissingPayload) {
		t.Errorf("expected ErrMissingPayload, got %v", err)
	}
}

func TestDecodePayload_Malformed(t *testing.T) {
	env := &Envelope{V: Version, Type: KindEdit, Payload: []byte(`{"edit": "not an object"}`)}
	var payload EditPayload
	if err := env.DecodePayload(&payload); err == nil {
		t.Error("expected error for malformed payload")
	}
}
