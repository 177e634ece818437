package relay

import (
	"context"
	"log"
	"sync"

	"roomsync/pkg/wire"
)

const (
	inboundBuffer   = 1000
	lifecycleBuffer = 100
)

// Inbound pairs an envelope with the connection that produced it.
type Inbound struct {
	Conn     *Conn
	Envelope *wire.Envelope
}

// Hub is the relay's coordination point. A single goroutine consumes
// registration, deregistration, and inbound traffic, so the router never
// sees two envelopes from the same decision concurrently.
type Hub struct {
	inbound    chan *Inbound
	register   chan *Conn
	unregister chan *Conn
	shutdown   chan struct{}

	registry *Registry
	router   *Router

	mu      sync.RWMutex
	running bool
}

// NewHub creates a hub over the registry and router.
func NewHub(registry *Registry, router *Router) *Hub {
	return &Hub{
		inbound:    make(chan *Inbound, inboundBuffer),
		register:   make(chan *Conn, lifecycleBuffer),
		unregister: make(chan *Conn, lifecycleBuffer),
		shutdown:   make(chan struct{}),
		registry:   registry,
		router:     router,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting relay hub")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down. Idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Dispatch queues an inbound envelope for routing. Non-blocking: a full
// hub sheds load rather than stalling the reader.
func (h *Hub) Dispatch(conn *Conn, env *wire.Envelope) error {
	if err := h.checkRunning(); err != nil {
		return err
	}
	select {
	case h.inbound <- &Inbound{Conn: conn, Envelope: env}:
		return nil
	default:
		return ErrInboundChannelFull
	}
}

// Register queues a connection for registration.
func (h *Hub) Register(conn *Conn) error {
	if err := h.checkRunning(); err != nil {
		return err
	}
	select {
	case h.register <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Unregister queues a connection for removal and room cleanup.
func (h *Hub) Unregister(conn *Conn) error {
	if err := h.checkRunning(); err != nil {
		return err
	}
	select {
	case h.unregister <- conn:
		return nil
	default:
		return ErrUnregisterChannelFull
	}
}

func (h *Hub) checkRunning() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Relay hub stopped")

	for {
		select {
		case in := <-h.inbound:
			if err := h.router.Route(ctx, in.Conn, in.Envelope); err != nil {
				log.Printf("Routing failed: type=%s from=%s err=%v",
					in.Envelope.Type, in.Conn.UserID(), err)
				h.sendError(in.Conn, in.Envelope.Type, err)
			}

		case conn := <-h.register:
			if conn == nil {
				continue
			}
			if err := h.registry.Register(conn); err != nil {
				log.Printf("Registration failed: user=%s err=%v", conn.UserID(), err)
				_ = conn.Close()
				continue
			}
			log.Printf("Connection registered: user=%s", conn.UserID())

		case conn := <-h.unregister:
			if conn == nil {
				continue
			}
			h.router.HandleDisconnect(ctx, conn)
			h.registry.Unregister(conn)
			log.Printf("Connection deregistered: user=%s", conn.UserID())

		case <-h.shutdown:
			return

		case <-ctx.Done():
			return
		}
	}
}

// sendError reports a routing failure back to the sender without exposing
// internals beyond the failing kind.
func (h *Hub) sendError(conn *Conn, kind string, routeErr error) {
	env, err := wire.NewEnvelope(wire.KindError, "", "", wire.ErrorPayload{
		Code:    "routing_failed",
		Message: "could not deliver " + kind + ": " + routeErr.Error(),
	})
	if err != nil {
		return
	}
	if err := conn.WriteEnvelope(env); err != nil {
		log.Printf("Failed to send error to %s: %v", conn.UserID(), err)
	}
}
