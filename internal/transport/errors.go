package transport

import "errors"

var (
	ErrAlreadyConnected = errors.New("adapter is already connected or connecting")
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrAdapterDestroyed = errors.New("adapter has been destroyed")
)
