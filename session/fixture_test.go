// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/syncroom/syncroom/lib/codec"
	"github.com/syncroom/syncroom/lib/playerstate"
	"github.com/syncroom/syncroom/lib/testutil"
	"github.com/syncroom/syncroom/mediator"
	"github.com/syncroom/syncroom/protocol"
	"github.com/syncroom/syncroom/transport"
)

const waitTimeout = 10 * time.Second

// fakeMediator is a room whose transports the test wires by hand.
type fakeMediator struct {
	localID string
	initErr error

	mu        sync.Mutex
	peers     map[string]protocol.Transport
	observers []mediator.PeerObserver

	done      chan struct{}
	closeOnce sync.Once
}

func newFakeMediator(localID string) *fakeMediator {
	return &fakeMediator{
		localID: localID,
		peers:   make(map[string]protocol.Transport),
		done:    make(chan struct{}),
	}
}

func (m *fakeMediator) Initialize(context.Context) error { return m.initErr }

func (m *fakeMediator) CreateRoom(context.Context) (string, error) {
	return "room-" + m.localID, nil
}

func (m *fakeMediator) JoinRoom(_ context.Context, room string) (string, error) {
	return room, nil
}

func (m *fakeMediator) LocalID() string { return m.localID }

func (m *fakeMediator) Peers() []protocol.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Collect(maps.Values(m.peers))
}

func (m *fakeMediator) Peer(peerID string) (protocol.Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[peerID]
	return peer, ok
}

func (m *fakeMediator) Watch(observer mediator.PeerObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

func (m *fakeMediator) Done() <-chan struct{} { return m.done }

func (m *fakeMediator) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		for _, peer := range m.Peers() {
			peer.Close()
		}
	})
	return nil
}

// add registers peer and reports it closed once its transport is done.
func (m *fakeMediator) add(peer protocol.Transport) {
	peerID := peer.PeerID()
	m.mu.Lock()
	m.peers[peerID] = peer
	m.mu.Unlock()

	go func() {
		<-peer.Done()
		m.mu.Lock()
		if m.peers[peerID] == peer {
			delete(m.peers, peerID)
		}
		observers := slices.Clone(m.observers)
		m.mu.Unlock()
		for _, observer := range observers {
			observer.PeerClosed(peerID)
		}
	}()
}

func (m *fakeMediator) announce(peer protocol.Transport) {
	m.mu.Lock()
	observers := slices.Clone(m.observers)
	m.mu.Unlock()
	for _, observer := range observers {
		observer.PeerConnected(peer)
	}
}

type memoryResolver struct {
	mu    sync.Mutex
	media map[mediaKey][]byte
}

func newMemoryResolver() *memoryResolver {
	return &memoryResolver{media: make(map[mediaKey][]byte)}
}

func (r *memoryResolver) add(trackID string, kind protocol.MediaKind, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media[mediaKey{trackID: trackID, kind: kind}] = data
}

func (r *memoryResolver) lookup(trackID string, kind protocol.MediaKind) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.media[mediaKey{trackID: trackID, kind: kind}]
	if !ok {
		return nil, fmt.Errorf("no %s for %s", kind, trackID)
	}
	return data, nil
}

func (r *memoryResolver) HasAudio(trackID string) bool {
	_, err := r.lookup(trackID, protocol.MediaAudio)
	return err == nil
}

func (r *memoryResolver) HasCover(trackID string) bool {
	_, err := r.lookup(trackID, protocol.MediaCover)
	return err == nil
}

func (r *memoryResolver) Audio(trackID string) ([]byte, error) {
	return r.lookup(trackID, protocol.MediaAudio)
}

func (r *memoryResolver) Cover(trackID string) ([]byte, error) {
	return r.lookup(trackID, protocol.MediaCover)
}

// recordingSink remembers what the session handed to playback.
type recordingSink struct {
	mu      sync.Mutex
	sources map[string][]byte
	covers  map[string][]byte
}

func newRecordingSink() *recordingSink {
	return &recordingSink{sources: make(map[string][]byte), covers: make(map[string][]byte)}
}

func (s *recordingSink) SetSource(track protocol.Track, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[track.ID] = data
	return nil
}

func (s *recordingSink) SetCover(track protocol.Track, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.covers[track.ID] = data
	return nil
}

func (s *recordingSink) source(trackID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sources[trackID]
	return data, ok
}

func (s *recordingSink) cover(trackID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.covers[trackID]
	return data, ok
}

// deferredPlayer holds player notifications until the test delivers
// them, so the suppression counter can be observed between a remote
// mutation and its notifications.
type deferredPlayer struct {
	*playerstate.State

	mu      sync.Mutex
	fn      func(playerstate.Change)
	pending []playerstate.Change
}

func (p *deferredPlayer) Subscribe(fn func(playerstate.Change)) func() {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
	return p.State.Subscribe(func(change playerstate.Change) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.pending = append(p.pending, change)
	})
}

func (p *deferredPlayer) deliver(t *testing.T) playerstate.Change {
	t.Helper()
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		t.Fatal("no pending player notification")
	}
	change := p.pending[0]
	p.pending = p.pending[1:]
	fn := p.fn
	p.mu.Unlock()
	fn(change)
	return change
}

// interleavingPlayer runs a hook inside the next SetQueue, before the
// queue is installed, to place a concurrent local change in the middle
// of a remote apply.
type interleavingPlayer struct {
	*playerstate.State

	mu             sync.Mutex
	beforeSetQueue func()
}

func (p *interleavingPlayer) onNextSetQueue(hook func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beforeSetQueue = hook
}

func (p *interleavingPlayer) SetQueue(update protocol.QueueUpdate) {
	p.mu.Lock()
	hook := p.beforeSetQueue
	p.beforeSetQueue = nil
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	p.State.SetQueue(update)
}

type peerFixture struct {
	id       string
	router   *protocol.Router
	player   *playerstate.State
	resolver *memoryResolver
	sink     *recordingSink
	mediator *fakeMediator
	session  *Session
}

func newFixture(t *testing.T, id string, options ...func(*Config)) *peerFixture {
	t.Helper()
	f := &peerFixture{
		id:       id,
		router:   protocol.NewRouter(),
		player:   playerstate.New(),
		resolver: newMemoryResolver(),
		sink:     newRecordingSink(),
		mediator: newFakeMediator(id),
	}
	cfg := Config{
		Mediator: f.mediator,
		Router:   f.router,
		Player:   f.player,
		Resolver: f.resolver,
		Sink:     f.sink,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&cfg)
	}
	session, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	f.session = session
	t.Cleanup(func() { session.Leave() })
	return f
}

func (f *peerFixture) create(t *testing.T) string {
	t.Helper()
	room, err := f.session.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("%s CreateRoom: %v", f.id, err)
	}
	return room
}

func (f *peerFixture) join(t *testing.T, room string) {
	t.Helper()
	if _, err := f.session.JoinRoom(context.Background(), room); err != nil {
		t.Fatalf("%s JoinRoom: %v", f.id, err)
	}
}

func (f *peerFixture) barrierOpen() bool {
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	return f.session.barrier != nil
}

// link connects two sessions with an in-process transport pair and
// tells both mediators about it.
func link(t *testing.T, a, b *peerFixture) {
	t.Helper()
	aToB, bToA := transport.MemoryPair(a.id, b.id, a.router, b.router)
	start(t, aToB, bToA)
	a.mediator.add(aToB)
	b.mediator.add(bToA)
	a.mediator.announce(aToB)
	b.mediator.announce(bToA)
}

func start(t *testing.T, transports ...protocol.Transport) {
	t.Helper()
	for _, peer := range transports {
		if err := peer.Start(context.Background()); err != nil {
			t.Fatalf("Start(%s): %v", peer.PeerID(), err)
		}
	}
}

// rawPeer is a remote end driven directly by the test instead of by a
// session.
type rawPeer struct {
	id        string
	router    *protocol.Router
	transport *transport.Memory

	// toRaw is the session's half of the pair.
	toRaw *transport.Memory
}

// newRawPeer connects a test-driven peer to f. Handlers go on its router
// before announce.
func newRawPeer(t *testing.T, f *peerFixture, id string) *rawPeer {
	t.Helper()
	router := protocol.NewRouter()
	toRaw, fromRaw := transport.MemoryPair(f.id, id, f.router, router)
	start(t, toRaw, fromRaw)
	f.mediator.add(toRaw)
	return &rawPeer{id: id, router: router, transport: fromRaw, toRaw: toRaw}
}

func (r *rawPeer) announce(f *peerFixture) { f.mediator.announce(r.toRaw) }

func (r *rawPeer) notify(t *testing.T, event protocol.Event, payload any) {
	t.Helper()
	if err := r.transport.Notify(context.Background(), event, payload); err != nil {
		t.Fatalf("raw notify %s: %v", event, err)
	}
}

// sync returns once the session has handled everything sent before
// it. Requests from one peer are handled in arrival order.
func (r *rawPeer) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if _, err := r.transport.Send(ctx, protocol.EventRequestQueue, nil); err != nil {
		t.Fatalf("raw sync: %v", err)
	}
}

type recorded struct {
	event protocol.Event
	data  codec.RawMessage
}

// record captures every listed event arriving at router.
func record(router *protocol.Router, events ...protocol.Event) <-chan recorded {
	captured := make(chan recorded, 64)
	for _, event := range events {
		router.Handle(event, func(_ context.Context, _ string, data codec.RawMessage) (any, error) {
			captured <- recorded{event: event, data: data}
			return nil, nil
		})
	}
	return captured
}

func nextEvent(t *testing.T, events <-chan recorded) recorded {
	t.Helper()
	return testutil.RequireReceive(t, events, waitTimeout, "waiting for message")
}

func decode[T any](t *testing.T, message recorded) T {
	t.Helper()
	var v T
	if err := protocol.Decode(message.data, &v); err != nil {
		t.Fatalf("decoding %s: %v", message.event, err)
	}
	return v
}

func localTrack(id string) protocol.Track {
	return protocol.Track{ID: id, Title: "Track " + id, Source: protocol.SourceLocal}
}
