package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"roomsync/pkg/wire"
)

type mockConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *mockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.ErrUnexpectedEOF
	}
}

func (c *mockConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed conn")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *mockConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

type mockDialer struct {
	mu      sync.Mutex
	conns   []*mockConn
	dials   int
	failAll bool
}

func (d *mockDialer) Dial(ctx context.Context, endpoint, credentials string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll {
		return nil, errors.New("dial refused")
	}
	conn := newMockConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) lastConn() *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: 20 * time.Millisecond,
		BackoffBase:       time.Second,
		BackoffCap:        4 * time.Second,
		MaxRetries:        5,
	}
}

// immediateTimers makes scheduled reconnects fire synchronously and
// records each requested delay.
func immediateTimers(a *Adapter, delays *[]time.Duration) {
	a.afterFunc = func(d time.Duration, f func()) *time.Timer {
		*delays = append(*delays, d)
		f()
		return time.NewTimer(time.Hour)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAdapter_ConnectTransitionsToConnected(t *testing.T) {
	dialer := &mockDialer{}
	var states []State
	var mu sync.Mutex

	a := New(dialer, testConfig(), nil, func(s State, err error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer a.Destroy()

	if err := a.Connect(context.Background(), "ws://relay/ws", "token"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if a.State() != StateConnected {
		t.Errorf("expected connected, got %s", a.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("unexpected transitions: %v", states)
	}
}

func TestAdapter_ConnectWhileConnectedFails(t *testing.T) {
	dialer := &mockDialer{}
	a := New(dialer, testConfig(), nil, nil)
	defer a.Destroy()

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}
	if err := a.Connect(context.Background(), "ws://relay/ws", ""); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("got %v, want ErrAlreadyConnected", err)
	}
}

func TestAdapter_ReconnectBackoffBoundsAndTerminalFailure(t *testing.T) {
	dialer := &mockDialer{failAll: true}
	cfg := testConfig()

	a := New(dialer, cfg, nil, nil)
	defer a.Destroy()

	var delays []time.Duration
	immediateTimers(a, &delays)

	a.Connect(context.Background(), "ws://relay/ws", "")

	if a.State() != StateFailed {
		t.Fatalf("expected terminal failed state, got %s", a.State())
	}
	// Initial attempt plus exactly MaxRetries retries.
	if got := dialer.dialCount(); got != cfg.MaxRetries+1 {
		t.Errorf("expected %d dial attempts, got %d", cfg.MaxRetries+1, got)
	}
	if len(delays) != cfg.MaxRetries {
		t.Fatalf("expected %d scheduled retries, got %d (%v)", cfg.MaxRetries, len(delays), delays)
	}
	for i, d := range delays {
		if d > cfg.BackoffCap {
			t.Errorf("retry %d delay %s exceeds cap %s", i+1, d, cfg.BackoffCap)
		}
		if i > 0 && d < delays[i-1] {
			t.Errorf("retry delays not monotonic: %v", delays)
		}
	}
	// Doubling from the base until the cap: 1s 2s 4s 4s 4s.
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("retry %d: got delay %s, want %s", i+1, delays[i], want[i])
		}
	}
}

func TestAdapter_DialFailureReturnsConnectionFailed(t *testing.T) {
	dialer := &mockDialer{failAll: true}
	a := New(dialer, testConfig(), nil, nil)
	defer a.Destroy()
	a.afterFunc = func(d time.Duration, f func()) *time.Timer {
		return time.NewTimer(time.Hour)
	}

	err := a.Connect(context.Background(), "ws://relay/ws", "")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestAdapter_ConnectInvalidatesPendingReconnect(t *testing.T) {
	dialer := &mockDialer{failAll: true}
	a := New(dialer, testConfig(), nil, nil)
	defer a.Destroy()

	// Capture the scheduled retry instead of firing it, simulating a
	// timer callback that has not run its staleness check yet.
	var pending func()
	a.afterFunc = func(d time.Duration, f func()) *time.Timer {
		pending = f
		return time.NewTimer(time.Hour)
	}

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err == nil {
		t.Fatal("expected first connect to fail")
	}
	if pending == nil {
		t.Fatal("no reconnect scheduled")
	}

	dialer.mu.Lock()
	dialer.failAll = false
	dialer.mu.Unlock()

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	conn := dialer.lastConn()

	// The stale retry must notice the newer connection and bail instead
	// of dialing a second socket.
	pending()

	if got := dialer.dialCount(); got != 2 {
		t.Errorf("expected 2 dials, got %d", got)
	}
	if a.State() != StateConnected {
		t.Errorf("expected connected state, got %s", a.State())
	}
	if dialer.lastConn() != conn {
		t.Error("established connection was replaced by a stale retry")
	}
}

func TestAdapter_SendDropsWhenNotConnected(t *testing.T) {
	a := New(&mockDialer{}, testConfig(), nil, nil)
	defer a.Destroy()

	env, _ := wire.NewEnvelope(wire.KindMessage, "r1", "u1", nil)
	if err := a.Send(env); err != nil {
		t.Errorf("send while disconnected must drop silently, got %v", err)
	}
}

func TestAdapter_SendWritesFrame(t *testing.T) {
	dialer := &mockDialer{}
	a := New(dialer, testConfig(), nil, nil)
	defer a.Destroy()

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}

	env, _ := wire.NewEnvelope(wire.KindMessage, "r1", "u1", nil)
	if err := a.Send(env); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frames := dialer.lastConn().writtenFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame written, got %d", len(frames))
	}
	decoded, err := wire.Decode(frames[0])
	if err != nil {
		t.Fatalf("written frame does not decode: %v", err)
	}
	if decoded.Type != wire.KindMessage || decoded.RoomID != "r1" {
		t.Errorf("unexpected frame: %+v", decoded)
	}
}

func TestAdapter_HeartbeatEmission(t *testing.T) {
	dialer := &mockDialer{}
	a := New(dialer, testConfig(), nil, nil)
	defer a.Destroy()

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}

	conn := dialer.lastConn()
	waitFor(t, "heartbeat pings", func() bool {
		pings := 0
		for _, frame := range conn.writtenFrames() {
			if env, err := wire.Decode(frame); err == nil && env.Type == wire.KindPing {
				pings++
			}
		}
		return pings >= 2
	})
}

func TestAdapter_DisconnectStopsHeartbeatAndRetries(t *testing.T) {
	dialer := &mockDialer{}
	a := New(dialer, testConfig(), nil, nil)

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}
	conn := dialer.lastConn()
	a.Disconnect()

	if a.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", a.State())
	}

	// No reconnect after a clean shutdown, and no further writes.
	frames := len(conn.writtenFrames())
	time.Sleep(60 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("clean disconnect triggered reconnect: %d dials", got)
	}
	if got := len(conn.writtenFrames()); got != frames {
		t.Errorf("heartbeat survived disconnect: %d -> %d frames", frames, got)
	}
}

func TestAdapter_InboundEnvelopesDeliveredInOrder(t *testing.T) {
	dialer := &mockDialer{}
	var mu sync.Mutex
	var got []string

	a := New(dialer, testConfig(), func(env *wire.Envelope) {
		mu.Lock()
		got = append(got, env.Type)
		mu.Unlock()
	}, nil)
	defer a.Destroy()

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}

	conn := dialer.lastConn()
	for _, kind := range []string{wire.KindUserJoined, wire.KindMessage, wire.KindUserLeft} {
		env, _ := wire.NewEnvelope(kind, "r1", "u2", nil)
		data, _ := env.Encode()
		conn.inbound <- data
	}

	waitFor(t, "inbound delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != wire.KindUserJoined || got[1] != wire.KindMessage || got[2] != wire.KindUserLeft {
		t.Errorf("envelopes out of order: %v", got)
	}
}

func TestAdapter_UndecodableFrameSkipped(t *testing.T) {
	dialer := &mockDialer{}
	var mu sync.Mutex
	var got []string

	a := New(dialer, testConfig(), func(env *wire.Envelope) {
		mu.Lock()
		got = append(got, env.Type)
		mu.Unlock()
	}, nil)
	defer a.Destroy()

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}

	conn := dialer.lastConn()
	conn.inbound <- []byte("{not json")
	env, _ := wire.NewEnvelope(wire.KindPong, "", "", nil)
	data, _ := env.Encode()
	conn.inbound <- data

	waitFor(t, "valid frame after garbage", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == wire.KindPong
	})
}

func TestAdapter_UncleanLossTriggersReconnect(t *testing.T) {
	dialer := &mockDialer{}
	a := New(dialer, testConfig(), nil, nil)
	defer a.Destroy()

	var delays []time.Duration
	immediateTimers(a, &delays)

	if err := a.Connect(context.Background(), "ws://relay/ws", ""); err != nil {
		t.Fatal(err)
	}

	// Kill the socket out from under the adapter.
	dialer.lastConn().Close()

	waitFor(t, "reconnect", func() bool {
		return dialer.dialCount() == 2 && a.State() == StateConnected
	})
}
