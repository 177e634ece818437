// Package transport owns the primary socket connection lifecycle: connect,
// reconnect with exponential backoff, heartbeat emission, and best-effort
// sends. The underlying socket sits behind the Conn and Dialer interfaces
// so the engine is testable without a network.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"roomsync/pkg/wire"
)

// State is the adapter's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Conn is a socket delivering ordered byte frames.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes a Conn to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint, credentials string) (Conn, error)
}

// Config holds the adapter's timing knobs.
type Config struct {
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxRetries        int
}

// EnvelopeHandler receives each decoded inbound envelope, in arrival order.
type EnvelopeHandler func(*wire.Envelope)

// StateHandler is notified of every state transition. err is non-nil when
// the transition was caused by a failure; it is never raised out of a
// background timer.
type StateHandler func(state State, err error)

// Adapter drives the primary connection state machine:
// Disconnected -> Connecting -> Connected -> (Disconnected | Failed).
// Failed is terminal and only reached after MaxRetries consecutive
// reconnect attempts; a clean Disconnect never retries.
type Adapter struct {
	dialer     Dialer
	cfg        Config
	onEnvelope EnvelopeHandler
	onState    StateHandler

	// afterFunc schedules reconnects; replaced by tests to observe delays.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	state          State
	conn           Conn
	endpoint       string
	credentials    string
	gen            int // invalidates goroutines from dead connections
	attempts       int
	retry          *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	destroyed      bool
}

// New creates an adapter in the Disconnected state.
func New(dialer Dialer, cfg Config, onEnvelope EnvelopeHandler, onState StateHandler) *Adapter {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.BackoffBase
	retry.Multiplier = 2
	retry.MaxInterval = cfg.BackoffCap
	retry.MaxElapsedTime = 0
	retry.RandomizationFactor = 0

	return &Adapter{
		dialer:     dialer,
		cfg:        cfg,
		onEnvelope: onEnvelope,
		onState:    onState,
		afterFunc:  time.AfterFunc,
		state:      StateDisconnected,
		retry:      retry,
	}
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect initiates the primary connection. On success the adapter
// transitions to Connected, starts heartbeating, and resets the retry
// budget. On failure it schedules a reconnect with exponential backoff,
// up to MaxRetries attempts, then surfaces a terminal Failed state.
func (a *Adapter) Connect(ctx context.Context, endpoint, credentials string) error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return ErrAdapterDestroyed
	}
	if a.state == StateConnected || a.state == StateConnecting {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	// Invalidate any reconnect timer whose callback already fired but
	// has not checked staleness yet, so it cannot race this dial.
	a.gen++
	a.stopTimersLocked()
	a.endpoint = endpoint
	a.credentials = credentials
	a.attempts = 0
	a.retry.Reset()
	a.mu.Unlock()

	return a.dial(ctx)
}

func (a *Adapter) dial(ctx context.Context) error {
	a.setState(StateConnecting, nil)

	conn, err := a.dialer.Dial(ctx, a.endpoint, a.credentials)
	if err != nil {
		log.Printf("Transport dial failed: endpoint=%s err=%v", a.endpoint, err)
		err = fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		a.scheduleReconnect(err)
		return err
	}

	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		conn.Close()
		return ErrAdapterDestroyed
	}
	a.conn = conn
	a.gen++
	gen := a.gen
	a.attempts = 0
	a.retry.Reset()
	stop := make(chan struct{})
	a.heartbeatStop = stop
	a.mu.Unlock()

	a.setState(StateConnected, nil)

	go a.readLoop(conn, gen)
	go a.heartbeatLoop(stop)
	return nil
}

// Send transmits an envelope over the primary connection. If the adapter
// is not Connected the envelope is dropped silently: delivery is
// at-most-once, best-effort, and callers needing stronger guarantees must
// queue above this layer.
func (a *Adapter) Send(env *wire.Envelope) error {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == StateConnected
	gen := a.gen
	a.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		a.connLost(gen, err)
		return ErrConnectionClosed
	}
	return nil
}

// Disconnect cleanly shuts the connection down. The heartbeat and any
// pending reconnect timer are stopped synchronously; no timer survives
// this call. The adapter returns to Disconnected and will not retry.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.gen++
	a.stopTimersLocked()
	conn := a.conn
	a.conn = nil
	wasFailed := a.state == StateFailed
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !wasFailed {
		a.setState(StateDisconnected, nil)
	}
}

// Destroy disconnects and makes the adapter permanently unusable.
func (a *Adapter) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	a.mu.Unlock()
	a.Disconnect()
}

// stopTimersLocked cancels the heartbeat and reconnect timers. Caller
// holds a.mu.
func (a *Adapter) stopTimersLocked() {
	if a.heartbeatStop != nil {
		close(a.heartbeatStop)
		a.heartbeatStop = nil
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
}

func (a *Adapter) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			a.connLost(gen, err)
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			log.Printf("Dropping undecodable frame: %v", err)
			continue
		}
		if a.onEnvelope != nil {
			a.onEnvelope(env)
		}
	}
}

func (a *Adapter) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			env, err := wire.NewEnvelope(wire.KindPing, "", "", nil)
			if err != nil {
				continue
			}
			a.Send(env)
		case <-stop:
			return
		}
	}
}

// connLost handles an unclean connection loss detected by the given
// generation's read loop or a failed write. Stale generations are ignored
// so a deliberate Disconnect does not trigger a reconnect.
func (a *Adapter) connLost(gen int, err error) {
	a.mu.Lock()
	if gen != a.gen || a.destroyed {
		a.mu.Unlock()
		return
	}
	a.gen++
	a.stopTimersLocked()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	log.Printf("Transport connection lost: endpoint=%s err=%v", a.endpoint, err)
	a.scheduleReconnect(err)
}

// scheduleReconnect arms the next retry, or transitions to the terminal
// Failed state when the attempt budget is spent.
func (a *Adapter) scheduleReconnect(cause error) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.attempts++
	if a.attempts > a.cfg.MaxRetries {
		a.mu.Unlock()
		a.setState(StateFailed, ErrRetriesExhausted)
		return
	}
	delay := a.retry.NextBackOff()
	attempt := a.attempts
	gen := a.gen
	a.mu.Unlock()

	log.Printf("Transport reconnect scheduled: attempt=%d delay=%s", attempt, delay)
	a.setState(StateDisconnected, cause)

	timer := a.afterFunc(delay, func() {
		a.mu.Lock()
		a.reconnectTimer = nil
		// A Disconnect or newer connection since arming invalidates
		// this retry.
		stale := a.destroyed || gen != a.gen
		a.mu.Unlock()
		if stale {
			return
		}
		a.dial(context.Background())
	})

	a.mu.Lock()
	if a.destroyed || gen != a.gen {
		timer.Stop()
	} else if a.reconnectTimer == nil {
		a.reconnectTimer = timer
	}
	a.mu.Unlock()
}

func (a *Adapter) setState(s State, err error) {
	a.mu.Lock()
	if a.state == s && err == nil {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()

	if a.onState != nil {
		a.onState(s, err)
	}
}
