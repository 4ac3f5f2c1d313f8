// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemoryHub is an in-process relay for tests. Every endpoint created
// from the same hub can signal every other, bypassing the mediator
// entirely.
type MemoryHub struct {
	mu        sync.Mutex
	endpoints map[string]*MemorySignaler
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{endpoints: make(map[string]*MemorySignaler)}
}

// Endpoint returns the signaler for id, creating it on first use.
func (h *MemoryHub) Endpoint(id string) *MemorySignaler {
	h.mu.Lock()
	defer h.mu.Unlock()
	if endpoint, ok := h.endpoints[id]; ok {
		return endpoint
	}
	endpoint := &MemorySignaler{
		hub:       h,
		id:        id,
		mailboxes: NewMailboxes(),
		done:      make(chan struct{}),
	}
	h.endpoints[id] = endpoint
	return endpoint
}

func (h *MemoryHub) lookup(id string) (*MemorySignaler, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	endpoint, ok := h.endpoints[id]
	return endpoint, ok
}

// MemorySignaler is one peer's endpoint on a [MemoryHub].
type MemorySignaler struct {
	hub       *MemoryHub
	id        string
	mailboxes *Mailboxes

	done      chan struct{}
	closeOnce sync.Once
}

func (s *MemorySignaler) LocalID() string { return s.id }

func (s *MemorySignaler) Relay(_ context.Context, peerID string, signal Signal) error {
	select {
	case <-s.done:
		return fmt.Errorf("relaying %s to %s: signaler closed", signal.Kind, peerID)
	default:
	}

	target, ok := s.hub.lookup(peerID)
	if !ok {
		return fmt.Errorf("relaying %s: unknown peer %s", signal.Kind, peerID)
	}
	if !target.mailboxes.Deliver(s.id, signal) {
		return fmt.Errorf("relaying %s to %s: mailbox full", signal.Kind, peerID)
	}
	return nil
}

func (s *MemorySignaler) Subscribe(peerID string) (<-chan Signal, func()) {
	return s.mailboxes.Subscribe(peerID)
}

func (s *MemorySignaler) Done() <-chan struct{} { return s.done }

// Close simulates losing the relay.
func (s *MemorySignaler) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
