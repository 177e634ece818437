package engine

import (
	"log"

	"roomsync/internal/bus"
	"roomsync/internal/editlog"
	"roomsync/pkg/types"
	"roomsync/pkg/wire"
)

// handleEnvelope routes one inbound envelope to the presence table, the
// edit log, the peer-link provider, or message history, then notifies
// consumers through the bus. Unknown message types are logged and dropped;
// malformed payloads never mutate state.
func (e *Engine) handleEnvelope(env *wire.Envelope) {
	if env.SenderID != "" {
		e.members.Touch(env.SenderID, e.now())
	}

	switch env.Type {
	case wire.KindPing:
		pong, err := wire.NewEnvelope(wire.KindPong, "", e.senderID(), nil)
		if err == nil {
			e.adapter.Send(pong)
		}

	case wire.KindPong:
		// Heartbeat acknowledgment; the Touch above is all we need.

	case wire.KindUserJoined, wire.KindUserUpdate:
		var payload wire.UserPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		_, existed := e.members.Get(payload.User.ID)
		e.members.Upsert(payload.User)
		e.withRoom(func(room *types.Room) { room.AddMember(payload.User.ID) })
		if existed {
			e.events.Publish(bus.EventUserUpdated, payload.User)
		} else {
			e.events.Publish(bus.EventUserJoined, payload.User)
		}

	case wire.KindUserLeft:
		var payload wire.UserLeftPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		e.members.Remove(payload.UserID)
		e.withRoom(func(room *types.Room) { room.RemoveMember(payload.UserID) })
		e.peers.Close(payload.UserID)
		e.events.Publish(bus.EventUserLeft, payload.UserID)

	case wire.KindRoomJoined:
		var payload wire.RoomJoinedPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		e.replaceRoom(payload)

	case wire.KindMessage, wire.KindReaction:
		var payload wire.ChatPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		e.appendHistory(payload.Message)
		e.events.Publish(bus.EventMessage, payload.Message)

	case wire.KindEdit:
		var payload wire.EditPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		edits := e.editLog()
		if edits.Contains(payload.Edit.ID) {
			// Relay echo of an edit this replica already holds.
			return
		}
		stored, err := edits.Append(payload.Edit)
		if err != nil {
			log.Printf("Rejected remote edit: id=%s err=%v", payload.Edit.ID, err)
			return
		}
		e.events.Publish(bus.EventEdit, stored)

	case wire.KindCursorUpdate:
		var payload wire.CursorPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		if e.members.SetCursor(payload.UserID, payload.Cursor) {
			e.events.Publish(bus.EventCursorUpdate, payload)
		}

	case wire.KindSelectionUpdate:
		var payload wire.SelectionPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		if e.members.SetSelection(payload.UserID, payload.Selection) {
			e.events.Publish(bus.EventSelectionUpdate, payload)
		}

	case wire.KindWebRTCOffer:
		var payload wire.SignalPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		answer, err := e.peers.Answer(env.SenderID, payload.SDP)
		if err != nil {
			log.Printf("Peer link answer failed: peer=%s err=%v", env.SenderID, err)
			e.events.Publish(bus.EventError, err)
			return
		}
		e.send(wire.KindWebRTCAnswer, wire.SignalPayload{TargetID: env.SenderID, SDP: answer})

	case wire.KindWebRTCAnswer:
		var payload wire.SignalPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		if err := e.peers.AcceptAnswer(env.SenderID, payload.SDP); err != nil {
			log.Printf("Peer link accept failed: peer=%s err=%v", env.SenderID, err)
			e.events.Publish(bus.EventError, err)
		}

	case wire.KindWebRTCICE:
		var payload wire.SignalPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		if err := e.peers.AddCandidate(env.SenderID, payload.Candidate); err != nil {
			log.Printf("Peer link candidate failed: peer=%s err=%v", env.SenderID, err)
		}

	case wire.KindError:
		var payload wire.ErrorPayload
		if err := env.DecodePayload(&payload); err != nil {
			e.dropMalformed(env, err)
			return
		}
		log.Printf("Relay error: code=%s message=%s", payload.Code, payload.Message)
		e.events.Publish(bus.EventError, payload)

	default:
		// Forward compatibility: never fatal.
		log.Printf("Dropping unknown message type: %s", env.Type)
	}
}

// replaceRoom installs the authoritative room from a room_joined echo and
// seeds the presence table from its member list.
func (e *Engine) replaceRoom(payload wire.RoomJoinedPayload) {
	room := payload.Room

	e.mu.Lock()
	sameRoom := e.currentRoom != nil && e.currentRoom.ID == room.ID
	e.currentRoom = &room
	if !sameRoom {
		e.history = nil
		e.edits = editlog.New()
	}
	e.mu.Unlock()

	e.members.Reset(payload.Members)
	log.Printf("Room joined: id=%s name=%s members=%d", room.ID, room.Name, len(payload.Members))
	e.events.Publish(bus.EventRoomJoined, payload)
}

func (e *Engine) senderID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentUser == nil {
		return ""
	}
	return e.currentUser.ID
}

func (e *Engine) withRoom(f func(*types.Room)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentRoom != nil {
		f(e.currentRoom)
		e.currentRoom.UpdatedAt = e.now()
	}
}

func (e *Engine) dropMalformed(env *wire.Envelope, err error) {
	log.Printf("Dropping malformed %s payload: %v", env.Type, err)
}
