package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"roomsync/internal/history"
	"roomsync/pkg/types"
	"roomsync/pkg/wire"
)

// Archiver is the slice of the history archive the router uses. It may be
// nil, in which case the relay is purely in-memory.
type Archiver interface {
	SaveRoom(ctx context.Context, room types.Room) error
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
	SaveMessage(ctx context.Context, msg types.Message) error
	SaveEdit(ctx context.Context, roomID string, logIndex int, edit types.Edit) error
}

// Router applies relay semantics to inbound envelopes: room bookkeeping,
// fan-out to room members, and unicast signaling relay. The relay never
// interprets edit contents; ordering and transformation belong to the
// clients.
type Router struct {
	registry *Registry
	archive  Archiver

	mu       sync.Mutex
	rooms    map[string]*types.Room
	editIdx  map[string]int        // roomID -> next archive log index
	profiles map[string]types.User // last announced profile per user
}

// NewRouter creates a router over the registry. archive may be nil.
func NewRouter(registry *Registry, archive Archiver) *Router {
	return &Router{
		registry: registry,
		archive:  archive,
		rooms:    make(map[string]*types.Room),
		editIdx:  make(map[string]int),
		profiles: make(map[string]types.User),
	}
}

// Route processes one envelope from sender. Errors are reported to the
// caller; they never tear down the hub.
func (rt *Router) Route(ctx context.Context, sender *Conn, env *wire.Envelope) error {
	switch env.Type {
	case wire.KindPing:
		pong, err := wire.NewEnvelope(wire.KindPong, "", "", nil)
		if err != nil {
			return err
		}
		return sender.WriteEnvelope(pong)

	case wire.KindPong:
		return nil

	case wire.KindUserUpdate:
		var payload wire.UserPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		rt.rememberProfile(payload.User)
		// Engines announce themselves right after connecting, before any
		// room join. There is nobody to notify yet, so only the profile
		// capture applies.
		if sender.RoomID() == "" {
			return nil
		}
		return rt.broadcast(sender, env)

	case wire.KindRoomCreate:
		return rt.createRoom(ctx, sender, env)

	case wire.KindRoomJoin:
		return rt.joinRoom(ctx, sender, env)

	case wire.KindRoomLeave:
		return rt.leaveRoom(ctx, sender)

	case wire.KindMessage, wire.KindReaction:
		var payload wire.ChatPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		if rt.archive != nil {
			if err := rt.archive.SaveMessage(ctx, payload.Message); err != nil {
				log.Printf("Failed to archive message: id=%s err=%v", payload.Message.ID, err)
			}
		}
		return rt.broadcast(sender, env)

	case wire.KindEdit:
		var payload wire.EditPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		roomID := sender.RoomID()
		if roomID == "" {
			return ErrNotInRoom
		}
		if rt.archive != nil {
			rt.mu.Lock()
			idx := rt.editIdx[roomID]
			rt.editIdx[roomID] = idx + 1
			rt.mu.Unlock()
			if err := rt.archive.SaveEdit(ctx, roomID, idx, payload.Edit); err != nil {
				log.Printf("Failed to archive edit: id=%s err=%v", payload.Edit.ID, err)
			}
		}
		return rt.broadcast(sender, env)

	case wire.KindCursorUpdate, wire.KindSelectionUpdate:
		return rt.broadcast(sender, env)

	case wire.KindWebRTCOffer, wire.KindWebRTCAnswer, wire.KindWebRTCICE:
		return rt.relaySignal(sender, env)

	default:
		// Forward compatibility: unknown kinds are logged and dropped.
		log.Printf("Dropping unknown message type: %s from=%s", env.Type, sender.UserID())
		return nil
	}
}

// HandleDisconnect cleans up after a connection that dropped without a
// room_leave.
func (rt *Router) HandleDisconnect(ctx context.Context, conn *Conn) {
	if err := rt.leaveRoom(ctx, conn); err != nil && !errors.Is(err, ErrNotInRoom) {
		log.Printf("Disconnect cleanup failed: user=%s err=%v", conn.UserID(), err)
	}
}

func (rt *Router) createRoom(ctx context.Context, sender *Conn, env *wire.Envelope) error {
	var payload wire.RoomCreatePayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	room := payload.Room
	if err := room.Validate(); err != nil {
		return err
	}
	room.AddMember(sender.UserID())
	room.UpdatedAt = time.Now()

	rt.mu.Lock()
	rt.rooms[room.ID] = &room
	rt.mu.Unlock()

	rt.registry.JoinRoom(sender, room.ID)
	rt.persistRoom(ctx, room)

	log.Printf("Room created: id=%s name=%s by=%s", room.ID, room.Name, sender.UserID())
	return rt.sendRoomJoined(sender, room)
}

func (rt *Router) joinRoom(ctx context.Context, sender *Conn, env *wire.Envelope) error {
	var payload wire.UserPayload
	if err := env.DecodePayload(&payload); err == nil && payload.User.ID != "" {
		rt.rememberProfile(payload.User)
	}

	roomID := env.RoomID
	room, err := rt.lookupRoom(ctx, roomID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	room.AddMember(sender.UserID())
	room.UpdatedAt = time.Now()
	snapshot := *room
	rt.mu.Unlock()

	rt.registry.JoinRoom(sender, roomID)
	rt.persistRoom(ctx, snapshot)

	// The joiner gets the authoritative snapshot; everyone else learns of
	// the new member.
	if err := rt.sendRoomJoined(sender, snapshot); err != nil {
		return err
	}
	joined, err := wire.NewEnvelope(wire.KindUserJoined, roomID, sender.UserID(),
		wire.UserPayload{User: rt.profileFor(sender)})
	if err != nil {
		return err
	}
	log.Printf("Room joined: id=%s user=%s members=%d", roomID, sender.UserID(), len(snapshot.MemberIDs))
	return rt.broadcast(sender, joined)
}

func (rt *Router) leaveRoom(ctx context.Context, sender *Conn) error {
	roomID := sender.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}

	rt.mu.Lock()
	var snapshot *types.Room
	if room, ok := rt.rooms[roomID]; ok {
		room.RemoveMember(sender.UserID())
		room.UpdatedAt = time.Now()
		s := *room
		snapshot = &s
	}
	rt.mu.Unlock()

	left, err := wire.NewEnvelope(wire.KindUserLeft, roomID, sender.UserID(),
		wire.UserLeftPayload{UserID: sender.UserID()})
	if err != nil {
		return err
	}
	if err := rt.broadcast(sender, left); err != nil {
		return err
	}

	rt.registry.LeaveRoom(sender)
	if snapshot != nil {
		rt.persistRoom(ctx, *snapshot)
	}
	log.Printf("Room left: id=%s user=%s", roomID, sender.UserID())
	return nil
}

// relaySignal forwards a peer-link negotiation envelope to its target only.
func (rt *Router) relaySignal(sender *Conn, env *wire.Envelope) error {
	var payload wire.SignalPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	target, ok := rt.registry.Get(payload.TargetID)
	if !ok {
		return ErrUnknownTarget
	}
	return target.WriteEnvelope(env)
}

// broadcast delivers env to every member of the sender's room except the
// sender. Per-recipient failures are logged, not fatal: one slow client
// must not block the room.
func (rt *Router) broadcast(sender *Conn, env *wire.Envelope) error {
	roomID := sender.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}
	for _, conn := range rt.registry.RoomConns(roomID) {
		if conn == sender {
			continue
		}
		if err := conn.WriteEnvelope(env); err != nil {
			log.Printf("Broadcast delivery failed: room=%s to=%s err=%v", roomID, conn.UserID(), err)
		}
	}
	return nil
}

func (rt *Router) sendRoomJoined(sender *Conn, room types.Room) error {
	members := make([]types.User, 0, len(room.MemberIDs))
	rt.mu.Lock()
	for _, id := range room.MemberIDs {
		if profile, ok := rt.profiles[id]; ok {
			members = append(members, profile)
		} else {
			members = append(members, types.User{ID: id, Status: types.StatusOnline})
		}
	}
	rt.mu.Unlock()

	env, err := wire.NewEnvelope(wire.KindRoomJoined, room.ID, "",
		wire.RoomJoinedPayload{Room: room, Members: members})
	if err != nil {
		return err
	}
	return sender.WriteEnvelope(env)
}

// lookupRoom checks memory first, then the archive for rooms that predate
// this relay process.
func (rt *Router) lookupRoom(ctx context.Context, roomID string) (*types.Room, error) {
	rt.mu.Lock()
	room, ok := rt.rooms[roomID]
	rt.mu.Unlock()
	if ok {
		return room, nil
	}

	if rt.archive != nil {
		archived, err := rt.archive.GetRoom(ctx, roomID)
		if err == nil {
			rt.mu.Lock()
			if existing, ok := rt.rooms[roomID]; ok {
				archived = existing
			} else {
				rt.rooms[roomID] = archived
			}
			rt.mu.Unlock()
			return archived, nil
		}
		if !errors.Is(err, history.ErrRoomNotFound) {
			return nil, err
		}
	}
	return nil, ErrUnknownRoom
}

func (rt *Router) rememberProfile(user types.User) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.profiles[user.ID] = user
}

func (rt *Router) profileFor(conn *Conn) types.User {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if profile, ok := rt.profiles[conn.UserID()]; ok {
		return profile
	}
	return types.User{ID: conn.UserID(), DisplayName: conn.DisplayName(), Status: types.StatusOnline}
}

func (rt *Router) persistRoom(ctx context.Context, room types.Room) {
	if rt.archive == nil {
		return
	}
	if err := rt.archive.SaveRoom(ctx, room); err != nil {
		log.Printf("Failed to archive room: id=%s err=%v", room.ID, err)
	}
}
