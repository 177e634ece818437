// Package engine ties the collaboration components together: room
// lifecycle, membership, and routing of inbound and outbound messages to
// the presence table, the edit log, and the message bus.
//
// One Engine instance owns one room's mutable state. Applications that
// need several concurrent rooms construct several engines; there is no
// process-global state.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"roomsync/internal/bus"
	"roomsync/internal/config"
	"roomsync/internal/editlog"
	"roomsync/internal/idgen"
	"roomsync/internal/peerlink"
	"roomsync/internal/presence"
	"roomsync/internal/storage"
	"roomsync/internal/transport"
	"roomsync/pkg/types"
	"roomsync/pkg/wire"
)

const currentUserKey = "user:current"

// PeerMessage is the payload published on the webrtc_message event.
type PeerMessage struct {
	PeerID  string
	Payload []byte
}

// ProviderFactory builds a peer-link provider wired to the engine's
// callbacks.
type ProviderFactory func(peerlink.Callbacks) peerlink.Provider

// Engine is a collaboration session engine instance.
type Engine struct {
	cfg     *config.EngineConfig
	events  *bus.Bus
	members *presence.Table
	edits   *editlog.Log
	adapter *transport.Adapter
	peers   peerlink.Provider
	store   storage.KeyValueStore

	now func() time.Time

	mu          sync.Mutex
	currentUser *types.User
	currentRoom *types.Room
	history     []types.Message
	sweepStop   chan struct{}
}

// New constructs an engine. dialer and newProvider abstract the network so
// the engine is fully testable in-process; store may be nil when no
// persistence collaborator is available.
func New(cfg *config.EngineConfig, dialer transport.Dialer, newProvider ProviderFactory, store storage.KeyValueStore) *Engine {
	e := &Engine{
		cfg:     cfg,
		events:  bus.New(),
		members: presence.NewTable(),
		edits:   editlog.New(),
		store:   store,
		now:     time.Now,
	}

	e.adapter = transport.New(dialer, transport.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		BackoffBase:       cfg.BackoffBase,
		BackoffCap:        cfg.BackoffCap,
		MaxRetries:        cfg.MaxRetries,
	}, e.handleEnvelope, e.handleTransportState)

	e.peers = newProvider(peerlink.Callbacks{
		OnCandidate:   e.relayCandidate,
		OnOpen:        e.peerOpened,
		OnMessage:     e.peerMessage,
		OnStateChange: e.peerStateChanged,
	})

	return e
}

// NewDefault constructs an engine with the production stack: a websocket
// dialer, a WebRTC peer-link provider on the configured STUN servers, and
// a bbolt profile store at storePath. An empty storePath skips
// persistence.
func NewDefault(cfg *config.EngineConfig, storePath string) (*Engine, error) {
	var store storage.KeyValueStore
	if storePath != "" {
		bolt, err := storage.OpenBolt(storePath)
		if err != nil {
			return nil, err
		}
		store = bolt
	}
	return New(cfg, transport.WSDialer{}, func(cb peerlink.Callbacks) peerlink.Provider {
		return peerlink.NewWebRTCProvider(cfg.StunServers, cb)
	}, store), nil
}

// Events returns the bus consumers subscribe to.
func (e *Engine) Events() *bus.Bus {
	return e.events
}

// Connect establishes the primary connection. If a current user is set,
// the engine announces it once the connection is up.
func (e *Engine) Connect(ctx context.Context, endpoint, credentials string) error {
	return e.adapter.Connect(ctx, endpoint, credentials)
}

// Disconnect cleanly shuts down the primary connection, the presence
// sweeper, and all peer links. No background timer survives this call.
func (e *Engine) Disconnect() {
	e.stopSweeper()
	e.peers.CloseAll()
	e.adapter.Disconnect()
}

// Destroy disconnects, closes the store, and renders the engine unusable.
// The engine owns its store from construction onward.
func (e *Engine) Destroy() {
	e.stopSweeper()
	e.peers.CloseAll()
	e.adapter.Destroy()
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}
}

// SetCurrentUser sets the local participant, persists the profile to the
// key/value collaborator, and announces it if connected.
func (e *Engine) SetCurrentUser(user types.User) error {
	if !types.IsValidUserID(user.ID) {
		return types.ErrInvalidUserID
	}
	if user.Status == "" {
		user.Status = types.StatusOnline
	}

	e.mu.Lock()
	e.currentUser = &user
	e.mu.Unlock()

	if e.store != nil {
		if data, err := json.Marshal(user); err == nil {
			if err := e.store.Set(currentUserKey, data); err != nil {
				log.Printf("Failed to persist current user: %v", err)
			}
		}
	}

	e.send(wire.KindUserUpdate, wire.UserPayload{User: user})
	return nil
}

// CurrentUser returns the local participant, if set.
func (e *Engine) CurrentUser() (types.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentUser == nil {
		return types.User{}, false
	}
	return *e.currentUser, true
}

// CreateRoom optimistically creates a local room and asks the relay to
// confirm it. The returned room is provisional until the room_joined echo
// replaces it.
func (e *Engine) CreateRoom(name, description string) (*types.Room, error) {
	if name == "" {
		return nil, ErrEmptyRoomName
	}

	e.mu.Lock()
	user := e.currentUser
	e.mu.Unlock()
	if user == nil {
		return nil, ErrNoCurrentUser
	}

	now := e.now()
	room := &types.Room{
		ID:          idgen.NewRoomID(),
		Name:        name,
		Description: description,
		MemberIDs:   []string{user.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
		Permissions: types.Permissions{Editors: []string{user.ID}},
	}
	if err := room.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.currentRoom = room
	e.history = nil
	e.edits = editlog.New()
	e.mu.Unlock()
	e.members.Reset([]types.User{*user})

	e.send(wire.KindRoomCreate, wire.RoomCreatePayload{Room: *room})
	log.Printf("Room created locally: id=%s name=%s", room.ID, room.Name)
	return room, nil
}

// JoinRoom asks the relay for membership in roomID. The current room is
// replaced when the room_joined echo arrives.
func (e *Engine) JoinRoom(roomID string) error {
	e.mu.Lock()
	user := e.currentUser
	e.mu.Unlock()
	if user == nil {
		return ErrNoCurrentUser
	}

	env, err := wire.NewEnvelope(wire.KindRoomJoin, roomID, user.ID, wire.UserPayload{User: *user})
	if err != nil {
		return err
	}
	return e.adapter.Send(env)
}

// LeaveRoom notifies the relay and clears local room state immediately,
// without waiting for an acknowledgment. Peer links scoped to the room are
// torn down.
func (e *Engine) LeaveRoom() {
	e.mu.Lock()
	room := e.currentRoom
	e.mu.Unlock()

	if room != nil {
		e.send(wire.KindRoomLeave, nil)
	}

	e.mu.Lock()
	e.currentRoom = nil
	e.history = nil
	e.edits = editlog.New()
	e.mu.Unlock()

	e.members.Clear()
	e.peers.CloseAll()
}

// CurrentRoom returns a copy of the current room, if any.
func (e *Engine) CurrentRoom() (types.Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentRoom == nil {
		return types.Room{}, false
	}
	return *e.currentRoom, true
}

// Members exposes the presence table.
func (e *Engine) Members() *presence.Table {
	return e.members
}

// CurrentText returns the shared document derived from the edit log.
func (e *Engine) CurrentText() string {
	return e.editLog().CurrentText()
}

// editLog returns the log for the current room.
func (e *Engine) editLog() *editlog.Log {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edits
}

// History returns a copy of the retained message history.
func (e *Engine) History() []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Message, len(e.history))
	copy(out, e.history)
	return out
}

// SendMessage appends a message to local history and transmits it.
func (e *Engine) SendMessage(content, kind string) (*types.Message, error) {
	e.mu.Lock()
	user, room := e.currentUser, e.currentRoom
	e.mu.Unlock()
	if user == nil {
		return nil, ErrNoCurrentUser
	}
	if room == nil {
		return nil, ErrNoCurrentRoom
	}
	if kind == "" {
		kind = types.MessageText
	}

	msg := types.Message{
		ID:       idgen.NewID(),
		Kind:     kind,
		SenderID: user.ID,
		RoomID:   room.ID,
		Content:  content,
		SentAt:   e.now(),
	}

	e.appendHistory(msg)
	e.send(wire.KindMessage, wire.ChatPayload{Message: msg})
	e.events.Publish(bus.EventMessage, msg)
	return &msg, nil
}

// SendEdit validates and appends an edit to the log, then transmits the
// stored form. Validation failures are returned synchronously and leave
// the log untouched, so the caller can reject the local edit.
func (e *Engine) SendEdit(kind string, position int, content string, length int) (types.Edit, error) {
	e.mu.Lock()
	user, room := e.currentUser, e.currentRoom
	e.mu.Unlock()
	if user == nil {
		return types.Edit{}, ErrNoCurrentUser
	}
	if room == nil {
		return types.Edit{}, ErrNoCurrentRoom
	}

	edits := e.editLog()
	edit := types.Edit{
		ID:        idgen.NewID(),
		Kind:      kind,
		Position:  position,
		Content:   content,
		Length:    length,
		AuthorID:  user.ID,
		BasedOn:   edits.Len(),
		CreatedAt: e.now(),
	}

	stored, err := edits.Append(edit)
	if err != nil {
		return types.Edit{}, err
	}

	e.send(wire.KindEdit, wire.EditPayload{Edit: stored})
	e.events.Publish(bus.EventEdit, stored)
	return stored, nil
}

// UpdateUserCursor moves the local cursor and broadcasts it.
func (e *Engine) UpdateUserCursor(cursor types.CursorPos) error {
	e.mu.Lock()
	user := e.currentUser
	e.mu.Unlock()
	if user == nil {
		return ErrNoCurrentUser
	}

	e.members.SetCursor(user.ID, cursor)
	e.send(wire.KindCursorUpdate, wire.CursorPayload{UserID: user.ID, Cursor: cursor})
	return nil
}

// UpdateUserSelection changes the local selection and broadcasts it.
func (e *Engine) UpdateUserSelection(sel types.Selection) error {
	e.mu.Lock()
	user := e.currentUser
	e.mu.Unlock()
	if user == nil {
		return ErrNoCurrentUser
	}

	e.members.SetSelection(user.ID, sel)
	e.send(wire.KindSelectionUpdate, wire.SelectionPayload{UserID: user.ID, Selection: sel})
	return nil
}

// OpenPeerLink starts peer-link negotiation with peerID, relaying the
// offer through the primary connection.
func (e *Engine) OpenPeerLink(peerID string) error {
	sdp, err := e.peers.Offer(peerID)
	if err != nil {
		return err
	}
	e.send(wire.KindWebRTCOffer, wire.SignalPayload{TargetID: peerID, SDP: sdp})
	return nil
}

// SendDirect transmits payload over the open peer link to peerID. There is
// no automatic fallback: if the link is not open the caller gets
// peerlink.ErrPeerNotLinked and must use the primary path explicitly.
func (e *Engine) SendDirect(peerID string, payload []byte) error {
	return e.peers.Send(peerID, payload)
}

// TransportState reports the primary connection state.
func (e *Engine) TransportState() transport.State {
	return e.adapter.State()
}

// send wraps payload in an envelope for the current room and hands it to
// the transport. Sends while disconnected are dropped by the adapter.
func (e *Engine) send(kind string, payload interface{}) {
	e.mu.Lock()
	var senderID, roomID string
	if e.currentUser != nil {
		senderID = e.currentUser.ID
	}
	if e.currentRoom != nil {
		roomID = e.currentRoom.ID
	}
	e.mu.Unlock()

	env, err := wire.NewEnvelope(kind, roomID, senderID, payload)
	if err != nil {
		log.Printf("Failed to build %s envelope: %v", kind, err)
		return
	}
	if err := e.adapter.Send(env); err != nil {
		log.Printf("Failed to send %s envelope: %v", kind, err)
	}
}

func (e *Engine) appendHistory(msg types.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, msg)
	if len(e.history) > e.cfg.HistoryCap {
		// Capacity policy: truncate oldest, never error.
		e.history = e.history[len(e.history)-e.cfg.HistoryCap:]
	}
}

func (e *Engine) handleTransportState(state transport.State, err error) {
	switch state {
	case transport.StateConnected:
		e.mu.Lock()
		user := e.currentUser
		e.mu.Unlock()
		if user != nil {
			e.send(wire.KindUserUpdate, wire.UserPayload{User: *user})
		}
		e.startSweeper()
		e.events.Publish(bus.EventConnected, nil)
	case transport.StateDisconnected:
		e.stopSweeper()
		if err != nil {
			e.events.Publish(bus.EventError, err)
		}
		e.events.Publish(bus.EventDisconnected, err)
	case transport.StateFailed:
		e.stopSweeper()
		e.events.Publish(bus.EventError, err)
		e.events.Publish(bus.EventDisconnected, err)
	}
}

// startSweeper periodically expires stale presence entries while the
// connection is up.
func (e *Engine) startSweeper() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	e.sweepStop = stop

	interval := e.cfg.StaleThreshold / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweepStale(e.now())
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopSweeper() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sweepStop != nil {
		close(e.sweepStop)
		e.sweepStop = nil
	}
}

// sweepStale transitions users without a recent heartbeat to away and
// reports each transition exactly once.
func (e *Engine) sweepStale(now time.Time) {
	for _, id := range e.members.ExpireStale(e.cfg.StaleThreshold, now) {
		if user, ok := e.members.Get(id); ok {
			e.events.Publish(bus.EventUserUpdated, user)
		}
	}
}

func (e *Engine) relayCandidate(peerID, candidate string) {
	e.send(wire.KindWebRTCICE, wire.SignalPayload{TargetID: peerID, Candidate: candidate})
}

func (e *Engine) peerOpened(peerID string) {
	e.events.Publish(bus.EventPeerConnected, peerID)
}

func (e *Engine) peerMessage(peerID string, payload []byte) {
	e.events.Publish(bus.EventPeerMessage, PeerMessage{PeerID: peerID, Payload: payload})
}

func (e *Engine) peerStateChanged(peerID, state string) {
	log.Printf("Peer link: peer=%s state=%s", peerID, state)
}
