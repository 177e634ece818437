package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/pkg/types"
	"roomsync/pkg/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Deployments front the relay with their own origin policy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler terminates websocket clients and exposes the health endpoint.
type Handler struct {
	hub      *Hub
	registry *Registry
	archive  Archiver
	mux      *http.ServeMux
}

// NewHandler wires the HTTP surface. archive may be nil.
func NewHandler(hub *Hub, registry *Registry, archive Archiver) *Handler {
	h := &Handler{
		hub:      hub,
		registry: registry,
		archive:  archive,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/ws", h.handleWebSocket)
	h.mux.HandleFunc("/health", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleWebSocket validates the handshake, upgrades, and pumps frames into
// the hub until the client goes away.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	displayName := r.URL.Query().Get("name")
	if userID == "" {
		http.Error(w, "Missing required query parameter: user_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConn(sock)
	conn.SetIdentity(userID, displayName)

	if err := h.hub.Register(conn); err != nil {
		log.Printf("Registration rejected: user=%s err=%v", userID, err)
		_ = conn.Close()
		return
	}

	go h.readLoop(conn)
}

// readLoop decodes frames and hands them to the hub. The sender identity
// on every envelope is forced to the handshake identity: clients cannot
// speak for each other.
func (h *Handler) readLoop(conn *Conn) {
	defer func() {
		if err := h.hub.Unregister(conn); err != nil {
			log.Printf("Deregistration failed: user=%s err=%v", conn.UserID(), err)
		}
		_ = conn.Close()
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Connection lost: user=%s err=%v", conn.UserID(), err)
			}
			return
		}

		env, err := wire.Decode(frame)
		if err != nil {
			log.Printf("Dropping undecodable frame: user=%s err=%v", conn.UserID(), err)
			continue
		}
		env.SenderID = conn.UserID()

		if err := h.hub.Dispatch(conn, env); err != nil {
			log.Printf("Dispatch failed: user=%s type=%s err=%v", conn.UserID(), env.Type, err)
		}
	}
}

type healthResponse struct {
	Status    string         `json:"status"`
	Stats     map[string]int `json:"stats"`
	Timestamp time.Time      `json:"timestamp"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	code := http.StatusOK
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if checker, ok := h.archive.(interface{ HealthCheck(context.Context) error }); ok {
			if err := checker.HealthCheck(ctx); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
				log.Printf("Archive health check failed: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    status,
		Stats:     h.registry.Stats(),
		Timestamp: time.Now(),
	})
}
