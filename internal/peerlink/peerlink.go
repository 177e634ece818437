// Package peerlink negotiates direct low-latency data channels between two
// participants. Session descriptions and ICE candidates are relayed through
// the primary connection by the engine; this package only produces and
// consumes them. The Provider interface keeps the engine testable without
// a real WebRTC stack.
package peerlink

// Peer connection states, mirrored into the engine's peer table.
const (
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateFailed       = "failed"
)

// Callbacks receive provider events. All methods may be called from
// provider-internal goroutines.
type Callbacks struct {
	// OnCandidate fires for each local ICE candidate to relay to the peer.
	OnCandidate func(peerID, candidate string)
	// OnOpen fires when the data channel to a peer becomes usable.
	OnOpen func(peerID string)
	// OnMessage fires for each payload received from a peer.
	OnMessage func(peerID string, payload []byte)
	// OnStateChange fires on peer connection state transitions.
	OnStateChange func(peerID, state string)
}

// Provider creates and tears down peer links.
type Provider interface {
	// Offer starts an outbound link and returns the offer SDP to relay.
	Offer(peerID string) (sdp string, err error)
	// Answer accepts a relayed offer and returns the answer SDP.
	Answer(peerID, offerSDP string) (sdp string, err error)
	// AcceptAnswer completes an outbound negotiation.
	AcceptAnswer(peerID, answerSDP string) error
	// AddCandidate applies a relayed remote ICE candidate.
	AddCandidate(peerID, candidate string) error
	// Send transmits a payload over an open link.
	Send(peerID string, payload []byte) error
	// State reports the link state for a peer, or "" if unknown.
	State(peerID string) string
	// Close tears down the link to one peer.
	Close(peerID string) error
	// CloseAll tears down every link.
	CloseAll()
}
