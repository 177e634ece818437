package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/pkg/wire"
)

const (
	writeBuffer   = 100
	writeDeadline = 5 * time.Second
)

// socket is the subset of *websocket.Conn the wrapper needs. Tests
// substitute an in-memory implementation.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn wraps one client's websocket. All writes go through a single
// goroutine, so any number of hub and router goroutines can send to the
// same client without racing on the socket.
type Conn struct {
	sock      socket
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.RWMutex
	userID string
	user   string // display name, informational only
	roomID string
}

// NewConn wraps an upgraded websocket and starts its writer.
func NewConn(sock socket) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		sock:    sock,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEnvelope queues an envelope for delivery. It never blocks longer
// than the write deadline; a slow client gets an error, not a stalled hub.
func (c *Conn) WriteEnvelope(env *wire.Envelope) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeDeadline):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadFrame blocks for the next raw frame from the client.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.sock.ReadMessage()
	return data, err
}

// Close shuts down the writer and the underlying socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.sock.Close()
	})
	return err
}

// SetIdentity records who is on the other end. Set once at handshake time.
func (c *Conn) SetIdentity(userID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.user = displayName
}

// UserID returns the authenticated user ID.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// DisplayName returns the display name given at handshake time.
func (c *Conn) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// SetRoom records the room this connection currently occupies; empty means
// none.
func (c *Conn) SetRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// RoomID returns the connection's current room, or empty.
func (c *Conn) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}
