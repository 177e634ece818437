package relay

import "errors"

var (
	// ErrHubNotRunning is returned when operating on a stopped hub.
	ErrHubNotRunning = errors.New("hub is not running")

	// ErrHubAlreadyRunning is returned by Start on a running hub.
	ErrHubAlreadyRunning = errors.New("hub is already running")

	// ErrInboundChannelFull signals the hub cannot accept more traffic.
	ErrInboundChannelFull = errors.New("inbound channel full")

	// ErrRegisterChannelFull signals registration backpressure.
	ErrRegisterChannelFull = errors.New("register channel full")

	// ErrUnregisterChannelFull signals deregistration backpressure.
	ErrUnregisterChannelFull = errors.New("unregister channel full")

	// ErrNilConnection is returned when registering a nil connection.
	ErrNilConnection = errors.New("connection is nil")

	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteTimeout is returned when a queued write does not drain.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrUnknownRoom is returned for traffic addressed to a room the relay
	// does not know.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnknownTarget is returned for signaling addressed to a user
	// without a registered connection.
	ErrUnknownTarget = errors.New("unknown target user")

	// ErrNotInRoom is returned for room traffic from a sender who has not
	// joined one.
	ErrNotInRoom = errors.New("sender is not in a room")
)
