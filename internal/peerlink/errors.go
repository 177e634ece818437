package peerlink

import "errors"

var (
	ErrPeerNotLinked    = errors.New("no open link to peer")
	ErrPeerExists       = errors.New("peer link already being negotiated")
	ErrUnknownPeer      = errors.New("no negotiation in progress for peer")
	ErrNegotiationState = errors.New("peer link negotiation out of order")
)
