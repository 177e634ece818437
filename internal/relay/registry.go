package relay

import (
	"log"
	"sync"
)

// Registry tracks which users are connected and which room each connection
// occupies. Lookups during routing are read-heavy, so it uses an RWMutex.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn            // userID -> connection
	rooms map[string]map[string]*Conn // roomID -> userID -> connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

// Register records a connection under its user ID. A second connection for
// the same user replaces the first; the old one is closed asynchronously so
// registration never blocks on a dying socket.
func (r *Registry) Register(conn *Conn) error {
	if conn == nil {
		return ErrNilConnection
	}
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[userID]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: user=%s err=%v", userID, err)
			}
		}()
	}
	r.conns[userID] = conn
	return nil
}

// Unregister removes a connection. Only the instance currently registered
// is removed, so a stale connection's cleanup cannot evict its replacement.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.conns[userID]
	if !ok || registered != conn {
		return
	}
	delete(r.conns, userID)
	r.removeFromRoomLocked(conn)
}

// Get returns the current connection for a user.
func (r *Registry) Get(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// JoinRoom moves a connection into a room, leaving any previous room first.
func (r *Registry) JoinRoom(conn *Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromRoomLocked(conn)
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Conn)
	}
	r.rooms[roomID][conn.UserID()] = conn
	conn.SetRoom(roomID)
}

// LeaveRoom removes a connection from its room, if any.
func (r *Registry) LeaveRoom(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromRoomLocked(conn)
}

func (r *Registry) removeFromRoomLocked(conn *Conn) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}
	if members, ok := r.rooms[roomID]; ok {
		delete(members, conn.UserID())
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	conn.SetRoom("")
}

// RoomConns returns the connections currently in a room.
func (r *Registry) RoomConns(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	conns := make([]*Conn, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports connection and room counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.conns),
		"rooms":       len(r.rooms),
	}
}
