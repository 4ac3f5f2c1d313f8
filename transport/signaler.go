// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// Signaler relays negotiation payloads between two peers that are not
// yet directly connected. The production implementation is the mediator
// client; tests use [MemoryHub] endpoints.
//
// Negotiation uses trickle ICE: the session description is relayed as
// soon as it is set and candidates follow one by one, so a Signaler
// must preserve the order of signals from one peer.
type Signaler interface {
	// LocalID is this peer's relay id. Both sides of a pair compare ids
	// to resolve simultaneous offers.
	LocalID() string

	// Relay sends signal to peerID.
	Relay(ctx context.Context, peerID string, signal Signal) error

	// Subscribe returns the signals relayed to us by peerID, including
	// any that arrived before the call. cancel releases the mailbox.
	Subscribe(peerID string) (signals <-chan Signal, cancel func())

	// Done is closed when the relay is lost. Transports that are still
	// negotiating cannot finish without it.
	Done() <-chan struct{}
}

// SignalKind distinguishes the three relay messages.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Signal is one relayed negotiation message. Payload is a JSON session
// description ({"type","sdp"}) for offers and answers, and a JSON ICE
// candidate init for candidates, passed through the relay verbatim.
type Signal struct {
	Kind    SignalKind
	Payload json.RawMessage
}

// mailboxCapacity bounds how many signals of one peer are held before
// the transport subscribes. A full trickle exchange is a few dozen.
const mailboxCapacity = 256

// Mailboxes buffers inbound signals per sending peer until the transport
// for that peer subscribes. Signaler implementations embed it.
type Mailboxes struct {
	mu    sync.Mutex
	boxes map[string]chan Signal
}

// NewMailboxes returns an empty set of mailboxes.
func NewMailboxes() *Mailboxes {
	return &Mailboxes{boxes: make(map[string]chan Signal)}
}

// Deliver queues a signal from peerID. It reports false when that peer's
// mailbox is full and the signal was dropped.
func (m *Mailboxes) Deliver(peerID string, signal Signal) bool {
	box := m.box(peerID)
	select {
	case box <- signal:
		return true
	default:
		return false
	}
}

// Subscribe returns the mailbox for peerID. The returned cancel drops the
// mailbox; later signals from the peer start a fresh one.
func (m *Mailboxes) Subscribe(peerID string) (<-chan Signal, func()) {
	box := m.box(peerID)
	return box, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.boxes[peerID]; ok && current == box {
			delete(m.boxes, peerID)
		}
	}
}

func (m *Mailboxes) box(peerID string) chan Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[peerID]
	if !ok {
		box = make(chan Signal, mailboxCapacity)
		m.boxes[peerID] = box
	}
	return box
}
