// Package bus is an in-process publish/subscribe dispatcher that decouples
// transport events from consumers. Delivery is synchronous and in
// subscription order; there is no queuing and no cross-process delivery.
package bus

import (
	"log"
	"sync"
)

// Events published by the engine. Consumers subscribe to these names.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventError           = "error"
	EventRoomJoined      = "room_joined"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUserUpdated     = "user_updated"
	EventMessage         = "message"
	EventEdit            = "edit"
	EventCursorUpdate    = "cursor_update"
	EventSelectionUpdate = "selection_update"
	EventPeerConnected   = "webrtc_connected"
	EventPeerMessage     = "webrtc_message"
)

// Handler receives a published payload.
type Handler func(payload interface{})

type subscription struct {
	id      int
	handler Handler
}

// Bus dispatches events to subscribers. Safe for concurrent use; handlers
// for one event run sequentially in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers handler for event and returns an unsubscribe
// function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(event string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[event]
		for i, s := range subs {
			if s.id == id {
				b.subs[event] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes every current subscriber for event, in subscription
// order. A panicking handler is logged and skipped; the remaining handlers
// still run, and Publish never panics to its caller.
func (b *Bus) Publish(event string, payload interface{}) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(event, s.handler, payload)
	}
}

func (b *Bus) invoke(event string, handler Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Event handler panicked: event=%s panic=%v", event, r)
		}
	}()
	handler(payload)
}

// SubscriberCount returns the number of live subscriptions for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
