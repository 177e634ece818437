package peerlink

import (
	"errors"
	"testing"
)

// SDP negotiation runs entirely locally; no ICE connectivity is needed to
// exercise the offer/answer handshake and its ordering rules.
func TestWebRTCProvider_OfferAnswerHandshake(t *testing.T) {
	alice := NewWebRTCProvider(nil, Callbacks{})
	bob := NewWebRTCProvider(nil, Callbacks{})
	defer alice.CloseAll()
	defer bob.CloseAll()

	offerSDP, err := alice.Offer("bob")
	if err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	if offerSDP == "" {
		t.Fatal("empty offer SDP")
	}

	if _, err := alice.Offer("bob"); !errors.Is(err, ErrPeerExists) {
		t.Errorf("duplicate offer: expected ErrPeerExists, got %v", err)
	}

	answerSDP, err := bob.Answer("alice", offerSDP)
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	if err := alice.AcceptAnswer("bob", answerSDP); err != nil {
		t.Errorf("accepting valid answer failed: %v", err)
	}
}

func TestWebRTCProvider_AcceptAnswerOrdering(t *testing.T) {
	alice := NewWebRTCProvider(nil, Callbacks{})
	bob := NewWebRTCProvider(nil, Callbacks{})
	defer alice.CloseAll()
	defer bob.CloseAll()

	offerSDP, err := alice.Offer("bob")
	if err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	answerSDP, err := bob.Answer("alice", offerSDP)
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	// The answering side never sent an offer; an inbound answer has no
	// negotiation to complete.
	if err := bob.AcceptAnswer("alice", answerSDP); !errors.Is(err, ErrNegotiationState) {
		t.Errorf("expected ErrNegotiationState, got %v", err)
	}

	if err := alice.AcceptAnswer("ghost", answerSDP); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestWebRTCProvider_SendWithoutLinkFails(t *testing.T) {
	alice := NewWebRTCProvider(nil, Callbacks{})
	defer alice.CloseAll()

	if err := alice.Send("bob", []byte("hi")); !errors.Is(err, ErrPeerNotLinked) {
		t.Errorf("expected ErrPeerNotLinked, got %v", err)
	}
}
