// Package wire defines the JSON envelope exchanged between engines and the
// relay, and the typed payload carried by each message kind. Payloads are
// decoded and validated at the transport boundary; untyped maps never reach
// the core.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"roomsync/pkg/types"
)

// Version is the current protocol version carried in every envelope.
const Version = 1

// Message kinds.
const (
	KindPing            = "ping"
	KindPong            = "pong"
	KindUserUpdate      = "user_update"
	KindRoomCreate      = "room_create"
	KindRoomJoin        = "room_join"
	KindRoomLeave       = "room_leave"
	KindRoomJoined      = "room_joined"
	KindUserJoined      = "user_joined"
	KindUserLeft        = "user_left"
	KindMessage         = "message"
	KindReaction        = "reaction"
	KindEdit            = "edit"
	KindCursorUpdate    = "cursor_update"
	KindSelectionUpdate = "selection_update"
	KindWebRTCOffer     = "webrtc_offer"
	KindWebRTCAnswer    = "webrtc_answer"
	KindWebRTCICE       = "webrtc_ice_candidate"
	KindError           = "error"
)

// Envelope is the outer frame for every wire message.
type Envelope struct {
	V        int             `json:"v"`
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}

// RoomCreatePayload asks the relay to create a room.
type RoomCreatePayload struct {
	Room types.Room `json:"room"`
}

// RoomJoinedPayload is the relay's echo confirming room membership; it
// carries the authoritative room and the full member presence list.
type RoomJoinedPayload struct {
	Room    types.Room   `json:"room"`
	Members []types.User `json:"members"`
}

// UserPayload carries a full presence record (user_update, user_joined).
type UserPayload struct {
	User types.User `json:"user"`
}

// UserLeftPayload identifies a departed user.
type UserLeftPayload struct {
	UserID string `json:"user_id"`
}

// ChatPayload carries a history message or reaction.
type ChatPayload struct {
	Message types.Message `json:"message"`
}

// EditPayload carries one operational-transform unit.
type EditPayload struct {
	Edit types.Edit `json:"edit"`
}

// CursorPayload carries a cursor position update.
type CursorPayload struct {
	UserID string          `json:"user_id"`
	Cursor types.CursorPos `json:"cursor"`
}

// SelectionPayload carries a selection range update.
type SelectionPayload struct {
	UserID    string          `json:"user_id"`
	Selection types.Selection `json:"selection"`
}

// SignalPayload relays peer-link negotiation material (SDP offers and
// answers, ICE candidates) between two participants through the relay.
type SignalPayload struct {
	TargetID  string `json:"target_id"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// ErrorPayload reports a relay-side failure back to the sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope builds an envelope with the payload marshaled in place.
// Marshaling only fails for non-JSON-encodable payloads, which the typed
// payload structs above rule out.
func NewEnvelope(kind, roomID, senderID string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		V:        Version,
		Type:     kind,
		RoomID:   roomID,
		SenderID: senderID,
		SentAt:   time.Now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode parses a raw frame into an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// Encode serializes an envelope for the socket.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", e.Type, err)
	}
	return data, nil
}

// DecodePayload unmarshals the envelope payload into dst, which must be a
// pointer to the payload struct matching the envelope's kind.
func (e *Envelope) DecodePayload(dst interface{}) error {
	if len(e.Payload) == 0 {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", e.Type, err)
	}
	return nil
}
