// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/syncroom/syncroom/lib/codec"
	"github.com/syncroom/syncroom/protocol"
)

// Compile-time interface check.
var _ protocol.Transport = (*Memory)(nil)

// Memory is an in-process transport: one half of a pair created by
// [MemoryPair]. Envelopes are encoded and decoded exactly as on a data
// channel, requests and streams are dispatched in order on a dedicated
// goroutine, and closing either half closes both. It lets session logic
// be tested without pion.
type Memory struct {
	peerID string
	router *protocol.Router
	remote *Memory

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   protocol.State
	pending map[string]chan *protocol.Message

	established chan struct{}
	startOnce   sync.Once
	inbox       chan func()

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryPair connects two in-process transports. a is held by peer aID
// and reaches peer bID; b is the reverse. Requests arriving at a are
// answered by routerA.
func MemoryPair(aID, bID string, routerA, routerB *protocol.Router) (a, b *Memory) {
	a = newMemory(bID, routerA)
	b = newMemory(aID, routerB)
	a.remote = b
	b.remote = a
	return a, b
}

func newMemory(peerID string, router *protocol.Router) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		peerID:      peerID,
		router:      router,
		ctx:         ctx,
		cancel:      cancel,
		state:       protocol.StateIdle,
		pending:     make(map[string]chan *protocol.Message),
		established: make(chan struct{}),
		inbox:       make(chan func(), inboxCapacity),
		done:        make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

func (m *Memory) PeerID() string { return m.peerID }

func (m *Memory) State() protocol.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Memory) Done() <-chan struct{} { return m.done }

// Start marks the transport connected. There is nothing to negotiate.
func (m *Memory) Start(context.Context) error {
	return m.connect()
}

// Initiate is the same as Start for an in-process pair.
func (m *Memory) Initiate(context.Context) error {
	return m.connect()
}

func (m *Memory) connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return fmt.Errorf("%w: %w", protocol.ErrNegotiationFailed, protocol.ErrTransportClosed)
	}
	m.startOnce.Do(func() {
		m.state = protocol.StateConnected
		close(m.established)
	})
	return nil
}

func (m *Memory) Send(ctx context.Context, event protocol.Event, payload any) (codec.RawMessage, error) {
	request, err := protocol.NewRequest(event, payload)
	if err != nil {
		return nil, err
	}

	reply := make(chan *protocol.Message, 1)
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("sending %s to %s: %w", event, m.peerID, protocol.ErrTransportClosed)
	}
	m.pending[request.ID] = reply
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, request.ID)
		m.mu.Unlock()
	}()

	if err := m.write(request); err != nil {
		return nil, err
	}

	select {
	case response := <-reply:
		return responseData(response)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, fmt.Errorf("sending %s to %s: %w", event, m.peerID, protocol.ErrTransportClosed)
	}
}

func (m *Memory) Notify(_ context.Context, event protocol.Event, payload any) error {
	request, err := protocol.NewNotification(event, payload)
	if err != nil {
		return err
	}
	return m.write(request)
}

func (m *Memory) Stream(_ context.Context, media protocol.Media) error {
	if !m.open() {
		return fmt.Errorf("streaming %s to %s: %w", media.TrackID, m.peerID, protocol.ErrChannelClosed)
	}
	delivered := protocol.Media{
		TrackID: media.TrackID,
		Kind:    media.Kind,
		Data:    bytes.Clone(media.Data),
	}
	remote := m.remote
	remote.enqueue(func() {
		remote.router.DispatchStream(remote.peerID, delivered)
	})
	return nil
}

func (m *Memory) Close() error {
	m.teardown()
	m.remote.teardown()
	return nil
}

func (m *Memory) open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == protocol.StateConnected
}

func (m *Memory) write(message *protocol.Message) error {
	if !m.open() || !m.remote.open() {
		return fmt.Errorf("writing %s to %s: %w", message.Event, m.peerID, protocol.ErrChannelClosed)
	}
	data, err := message.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", message.Event, err)
	}
	m.remote.receive(data)
	return nil
}

func (m *Memory) receive(data []byte) {
	message, err := protocol.Parse(data)
	if err != nil {
		return
	}
	if message.Type == protocol.KindResponse {
		m.mu.Lock()
		reply, ok := m.pending[message.ID]
		delete(m.pending, message.ID)
		m.mu.Unlock()
		if ok {
			reply <- message
		}
		return
	}
	m.enqueue(func() {
		response, ok := m.router.Dispatch(m.ctx, m.peerID, message)
		if ok {
			_ = m.write(response)
		}
	})
}

func (m *Memory) enqueue(work func()) {
	select {
	case m.inbox <- work:
	case <-m.done:
	}
}

func (m *Memory) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case work := <-m.inbox:
			work()
		}
	}
}

func (m *Memory) teardown() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = protocol.StateClosed
		clear(m.pending)
		m.mu.Unlock()
		close(m.done)
		m.cancel()
	})
}
