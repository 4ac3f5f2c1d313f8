// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"

	"github.com/syncroom/syncroom/lib/codec"
)

var (
	// ErrConnectionFailed means the mediator stayed unreachable after the
	// retry budget was spent. Fatal to starting a session.
	ErrConnectionFailed = errors.New("mediator connection failed")

	// ErrNegotiationFailed means a peer connection never reached
	// connected. Only that peer is dropped.
	ErrNegotiationFailed = errors.New("peer negotiation failed")

	// ErrChannelClosed is returned when writing to a torn-down data
	// channel. Callers log it and carry on.
	ErrChannelClosed = errors.New("channel closed")

	// ErrTransportClosed rejects calls pending on, or issued to, a
	// transport that has reached a terminal state.
	ErrTransportClosed = errors.New("transport closed")
)

// State is the negotiation state of one transport.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Transport is a channel to one remote peer.
//
// A transport is created for a peer discovered through the mediator and
// driven by one or both of Start and Initiate. Both block until the
// channel is usable and return an error wrapping ErrNegotiationFailed
// when it never becomes so. Once connected, requests arriving from the
// peer are answered by the process's Router.
type Transport interface {
	// PeerID is the mediator-assigned id of the remote peer.
	PeerID() string

	// State returns the current negotiation state.
	State() State

	// Start arms the transport to be greeted by the peer: it answers
	// negotiation initiated from the other side. Used for every peer.
	Start(ctx context.Context) error

	// Initiate creates the local connection and opens negotiation
	// toward the peer. Used in addition to Start for peers that were
	// already in the room when the local peer joined.
	Initiate(ctx context.Context) error

	// Send issues a REQUEST and blocks until its RESPONSE arrives, ctx
	// is done, or the transport is torn down (ErrTransportClosed).
	Send(ctx context.Context, event Event, payload any) (codec.RawMessage, error)

	// Notify issues a REQUEST without waiting. Any RESPONSE the peer
	// produces is discarded on arrival.
	Notify(ctx context.Context, event Event, payload any) error

	// Stream delivers media bytes to the peer's stream handler.
	Stream(ctx context.Context, media Media) error

	// Done is closed once the transport reaches a terminal state.
	Done() <-chan struct{}

	// Close tears the transport down. Idempotent.
	Close() error
}

// Factory builds the transport for a newly discovered peer.
type Factory func(peerID string) Transport
