package peerlink

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v3"
)

const dataChannelLabel = "roomsync"

// WebRTCProvider implements Provider with pion/webrtc.
type WebRTCProvider struct {
	api       *webrtc.API
	config    webrtc.Configuration
	callbacks Callbacks

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	id      string
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	state   string
	offered bool // this side initiated the negotiation
}

// NewWebRTCProvider creates a provider using the given STUN servers.
func NewWebRTCProvider(stunServers []string, callbacks Callbacks) *WebRTCProvider {
	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &WebRTCProvider{
		api:       webrtc.NewAPI(),
		config:    config,
		callbacks: callbacks,
		peers:     make(map[string]*peer),
	}
}

// Offer starts an outbound negotiation with peerID.
func (p *WebRTCProvider) Offer(peerID string) (string, error) {
	p.mu.Lock()
	if _, exists := p.peers[peerID]; exists {
		p.mu.Unlock()
		return "", ErrPeerExists
	}
	p.mu.Unlock()

	pr, err := p.newPeer(peerID)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	pr.offered = true
	p.mu.Unlock()

	channel, err := pr.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		p.teardown(peerID)
		return "", fmt.Errorf("failed to create data channel: %w", err)
	}
	p.wireChannel(pr, channel)

	offer, err := pr.pc.CreateOffer(nil)
	if err != nil {
		p.teardown(peerID)
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pr.pc.SetLocalDescription(offer); err != nil {
		p.teardown(peerID)
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

// Answer accepts a relayed offer from peerID and returns the answer SDP.
func (p *WebRTCProvider) Answer(peerID, offerSDP string) (string, error) {
	p.mu.Lock()
	if _, exists := p.peers[peerID]; exists {
		p.mu.Unlock()
		return "", ErrPeerExists
	}
	p.mu.Unlock()

	pr, err := p.newPeer(peerID)
	if err != nil {
		return "", err
	}

	// The offering side created the channel; adopt it when it arrives.
	pr.pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		p.wireChannel(pr, channel)
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pr.pc.SetRemoteDescription(offer); err != nil {
		p.teardown(peerID)
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := pr.pc.CreateAnswer(nil)
	if err != nil {
		p.teardown(peerID)
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pr.pc.SetLocalDescription(answer); err != nil {
		p.teardown(peerID)
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

// AcceptAnswer completes a negotiation started with Offer.
func (p *WebRTCProvider) AcceptAnswer(peerID, answerSDP string) error {
	p.mu.Lock()
	pr, exists := p.peers[peerID]
	p.mu.Unlock()
	if !exists {
		return ErrUnknownPeer
	}
	if !pr.offered {
		// An answer only completes a negotiation this side started.
		return ErrNegotiationState
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pr.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

// AddCandidate applies a relayed remote ICE candidate.
func (p *WebRTCProvider) AddCandidate(peerID, candidate string) error {
	p.mu.Lock()
	pr, exists := p.peers[peerID]
	p.mu.Unlock()
	if !exists {
		return ErrUnknownPeer
	}

	if err := pr.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Send transmits payload over the open channel to peerID. There is no
// fallback here: callers that need delivery when the link is down must use
// the primary path explicitly.
func (p *WebRTCProvider) Send(peerID string, payload []byte) error {
	p.mu.Lock()
	pr, exists := p.peers[peerID]
	var channel *webrtc.DataChannel
	if exists {
		channel = pr.channel
	}
	p.mu.Unlock()

	if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrPeerNotLinked
	}
	return channel.Send(payload)
}

// State reports the tracked state for peerID.
func (p *WebRTCProvider) State(peerID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, exists := p.peers[peerID]; exists {
		return pr.state
	}
	return ""
}

// Close tears down the link to one peer.
func (p *WebRTCProvider) Close(peerID string) error {
	return p.teardown(peerID)
}

// CloseAll tears down every link, e.g. on room leave.
func (p *WebRTCProvider) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.peers))
	for id := range p.peers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.teardown(id)
	}
}

func (p *WebRTCProvider) newPeer(peerID string) (*peer, error) {
	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pr := &peer{id: peerID, pc: pc, state: StateConnecting}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of candidates
		}
		if p.callbacks.OnCandidate != nil {
			p.callbacks.OnCandidate(peerID, c.ToJSON().Candidate)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		state := mapConnectionState(s)
		if state == "" {
			return
		}
		p.mu.Lock()
		if tracked, exists := p.peers[peerID]; exists {
			tracked.state = state
		}
		p.mu.Unlock()

		log.Printf("Peer link state: peer=%s state=%s", peerID, state)
		if p.callbacks.OnStateChange != nil {
			p.callbacks.OnStateChange(peerID, state)
		}
	})

	p.mu.Lock()
	p.peers[peerID] = pr
	p.mu.Unlock()
	return pr, nil
}

func (p *WebRTCProvider) wireChannel(pr *peer, channel *webrtc.DataChannel) {
	p.mu.Lock()
	pr.channel = channel
	p.mu.Unlock()

	channel.OnOpen(func() {
		if p.callbacks.OnOpen != nil {
			p.callbacks.OnOpen(pr.id)
		}
	})
	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.callbacks.OnMessage != nil {
			p.callbacks.OnMessage(pr.id, msg.Data)
		}
	})
}

func (p *WebRTCProvider) teardown(peerID string) error {
	p.mu.Lock()
	pr, exists := p.peers[peerID]
	delete(p.peers, peerID)
	p.mu.Unlock()

	if !exists {
		return nil
	}
	return pr.pc.Close()
}

func mapConnectionState(s webrtc.PeerConnectionState) string {
	switch s {
	case webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateNew:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	}
	return ""
}
