// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/syncroom/syncroom/lib/clock"
	"github.com/syncroom/syncroom/lib/playerstate"
	"github.com/syncroom/syncroom/mediator"
	"github.com/syncroom/syncroom/protocol"
)

// Compile-time interface check.
var _ mediator.PeerObserver = (*Session)(nil)

var (
	// ErrNotInitialized is returned by operations that need a room
	// before CreateRoom or JoinRoom has been called.
	ErrNotInitialized = errors.New("session not started")

	// ErrAlreadyStarted is returned by a second CreateRoom or JoinRoom.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrSessionClosed is returned once the session has left its room.
	ErrSessionClosed = errors.New("session closed")
)

// DefaultFetchTimeout bounds one media fetch when Config.FetchTimeout is
// zero.
const DefaultFetchTimeout = 2 * time.Minute

// Role is the part a session plays in its room.
type Role int

const (
	RoleNone Role = iota

	// RoleBroadcaster created the room. It is the source of truth for
	// track changes and runs the ready barrier.
	RoleBroadcaster

	// RoleWatcher joined the room and mirrors the broadcaster.
	RoleWatcher
)

func (r Role) String() string {
	switch r {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleWatcher:
		return "watcher"
	default:
		return "none"
	}
}

// State is the lifecycle position of a session.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateBroadcasting
	StateWatching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateBroadcasting:
		return "broadcaster-active"
	case StateWatching:
		return "watcher-active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds a session's collaborators. Mediator, Router, Player,
// Resolver, and Sink are required.
type Config struct {
	Mediator Mediator

	// Router must be the router the mediator's transports dispatch to.
	// New registers the session's handlers on it.
	Router *protocol.Router

	Player   Player
	Resolver Resolver
	Sink     Sink

	// Clock drives fetch timeouts. Defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger

	// FetchTimeout bounds one media fetch, from request to the last
	// byte. Default: DefaultFetchTimeout.
	FetchTimeout time.Duration
}

type mediaKey struct {
	trackID string
	kind    protocol.MediaKind
}

// Session keeps the local player in sync with every peer in a room.
type Session struct {
	mediator     Mediator
	router       *protocol.Router
	player       Player
	resolver     Resolver
	sink         Sink
	clock        clock.Clock
	logger       *slog.Logger
	fetchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// applyMu serializes every player mutation: remote applies together
	// with their suppression update, and local changes made through
	// Update.
	applyMu sync.Mutex

	// broadcastMu keeps the order of sends equal to the order of the
	// snapshots they carry.
	broadcastMu sync.Mutex

	mu           sync.Mutex
	state        State
	role         Role
	room         string
	suppress     int
	skipPlayback bool
	skipSeek     bool
	current      string
	fetch        *fetch
	covers       map[string]bool
	cache        map[mediaKey][]byte
	ready        *readyWait
	barrier      *barrier
	unsubscribe  func()

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a session and registers its handlers on cfg.Router and
// its observer on cfg.Mediator. Nothing happens on the network until
// CreateRoom or JoinRoom.
func New(cfg Config) (*Session, error) {
	switch {
	case cfg.Mediator == nil:
		return nil, errors.New("session: mediator is required")
	case cfg.Router == nil:
		return nil, errors.New("session: router is required")
	case cfg.Player == nil:
		return nil, errors.New("session: player is required")
	case cfg.Resolver == nil:
		return nil, errors.New("session: resolver is required")
	case cfg.Sink == nil:
		return nil, errors.New("session: sink is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		mediator:     cfg.Mediator,
		router:       cfg.Router,
		player:       cfg.Player,
		resolver:     cfg.Resolver,
		sink:         cfg.Sink,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		fetchTimeout: cfg.FetchTimeout,
		ctx:          ctx,
		cancel:       cancel,
		covers:       make(map[string]bool),
		cache:        make(map[mediaKey][]byte),
		done:         make(chan struct{}),
	}
	s.registerHandlers()
	s.mediator.Watch(s)
	return s, nil
}

// CreateRoom makes this session the broadcaster of a new room and
// returns its id. Peers that join later receive the queue as soon as
// they connect. When the mediator is unreachable the error wraps
// protocol.ErrConnectionFailed and the session is closed.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	room, err := s.start(ctx, RoleBroadcaster, s.mediator.CreateRoom)
	if err != nil {
		return "", err
	}
	for _, peer := range s.connectedPeers() {
		s.pushState(peer)
	}
	return room, nil
}

// JoinRoom makes this session a watcher of room, connects to its
// members, and waits passively for the broadcaster's queue.
func (s *Session) JoinRoom(ctx context.Context, room string) (string, error) {
	return s.start(ctx, RoleWatcher, func(ctx context.Context) (string, error) {
		return s.mediator.JoinRoom(ctx, room)
	})
}

func (s *Session) start(ctx context.Context, role Role, enter func(context.Context) (string, error)) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
	case StateClosed:
		s.mu.Unlock()
		return "", ErrSessionClosed
	default:
		s.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.role = role
	s.mu.Unlock()

	// Subscribe before any peer can deliver state, so every remote
	// mutation is paired with its suppression.
	unsubscribe := s.player.Subscribe(s.observe)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if err := s.mediator.Initialize(ctx); err != nil {
		s.logger.Error("connecting to mediator failed", "error", err)
		s.shutdown()
		return "", err
	}
	go s.watchMediator()

	room, err := enter(ctx)
	if err != nil {
		s.logger.Error("entering room failed", "role", role.String(), "error", err)
		s.shutdown()
		return "", err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.room = room
	if role == RoleBroadcaster {
		s.state = StateBroadcasting
	} else {
		s.state = StateWatching
	}
	s.mu.Unlock()

	s.logger.Info("session active", "role", role.String(), "room_id", room, "peer_id", s.mediator.LocalID())
	s.currentChanged()
	return room, nil
}

// Leave closes the mediator connection and every transport. The session
// cannot be restarted.
func (s *Session) Leave() error {
	s.shutdown()
	return nil
}

// Done is closed when the session has closed, by Leave or because the
// mediator connection was lost.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) watchMediator() {
	select {
	case <-s.mediator.Done():
		s.logger.Warn("mediator connection lost, closing session")
		s.shutdown()
	case <-s.done:
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.fetch = nil
		s.ready = nil
		s.barrier = nil
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		s.cancel()
		close(s.done)
		if err := s.mediator.Close(); err != nil {
			s.logger.Warn("closing mediator", "error", err)
		}
		s.logger.Info("session closed")
	})
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the role chosen by CreateRoom or JoinRoom.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// LocalID returns this process's peer id, assigned by the mediator.
func (s *Session) LocalID() string { return s.mediator.LocalID() }

// Room returns the room id once the session is active.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Suppressed returns the number of upcoming local queue or repeat
// changes that will not be broadcast because a peer caused them.
func (s *Session) Suppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppress
}

// Fetching returns the track whose audio is being fetched, if any.
func (s *Session) Fetching() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetch == nil {
		return "", false
	}
	return s.fetch.trackID, true
}

func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Session) activeLocked() bool {
	switch s.state {
	case StateConnecting, StateBroadcasting, StateWatching:
		return true
	default:
		return false
	}
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateClosed:
		return ErrSessionClosed
	default:
		return nil
	}
}

// RequestQueue pulls the queue and repeat flag from peerID and applies
// them as if the peer had broadcast them.
func (s *Session) RequestQueue(ctx context.Context, peerID string) (protocol.QueueState, error) {
	if err := s.check(); err != nil {
		return protocol.QueueState{}, err
	}
	peer, ok := s.connectedPeer(peerID)
	if !ok {
		return protocol.QueueState{}, fmt.Errorf("requesting queue from %s: %w", peerID, protocol.ErrTransportClosed)
	}
	data, err := peer.Send(ctx, protocol.EventRequestQueue, nil)
	if err != nil {
		return protocol.QueueState{}, fmt.Errorf("requesting queue from %s: %w", peerID, err)
	}
	var state protocol.QueueState
	if err := protocol.Decode(data, &state); err != nil {
		return protocol.QueueState{}, fmt.Errorf("decoding queue from %s: %w", peerID, err)
	}
	s.applyQueue(peerID, state.Queue)
	s.applyRepeat(peerID, state.Repeat)
	s.evaluateFetches()
	return state, nil
}

// PeerConnected is called by the mediator once a transport is
// established. The broadcaster pushes its state to the new peer and
// reopens the ready barrier so the peer is prepared before playback.
func (s *Session) PeerConnected(peer protocol.Transport) {
	if !s.active() {
		return
	}
	s.mu.Lock()
	role := s.role
	current := s.current
	s.mu.Unlock()

	s.logger.Info("peer joined session", "peer", peer.PeerID())
	if role == RoleBroadcaster {
		s.pushState(peer)
		if current != "" {
			s.openBarrier(s.track(current))
		}
	}
	s.evaluateFetches()
}

// PeerClosed is called by the mediator when a peer's transport has
// gone. The peer no longer holds up the ready barrier.
func (s *Session) PeerClosed(peerID string) {
	s.logger.Info("peer left session", "peer", peerID)
	s.markGone(peerID)
}

// observe turns local player changes into broadcasts, and keeps media
// and readiness following the current track whatever caused the change.
func (s *Session) observe(change playerstate.Change) {
	if !s.active() {
		return
	}
	switch change {
	case playerstate.ChangeQueue, playerstate.ChangeIndex, playerstate.ChangeRepeat:
		if s.consumeSuppression() {
			s.logger.Debug("suppressed echo", "change", change.String())
		} else {
			s.broadcastChange(change)
		}
		if change != playerstate.ChangeRepeat {
			s.currentChanged()
			s.evaluateFetches()
		}
	case playerstate.ChangePlayback:
		if s.consumeFlag(&s.skipPlayback) {
			s.logger.Debug("suppressed echo", "change", change.String())
			return
		}
		s.broadcastChange(change)
	case playerstate.ChangeSeek:
		if s.consumeFlag(&s.skipSeek) {
			s.logger.Debug("suppressed echo", "change", change.String())
			return
		}
		s.broadcastChange(change)
	}
}

func (s *Session) consumeSuppression() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppress == 0 {
		return false
	}
	s.suppress--
	return true
}

func (s *Session) consumeFlag(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !*flag {
		return false
	}
	*flag = false
	return true
}

// currentChanged reacts to the current track changing: it hands
// available media to the sink, asks for missing cover art, and on the
// broadcaster opens a ready barrier.
func (s *Session) currentChanged() {
	snapshot := s.player.Snapshot()
	entry, track, ok := snapshot.Current()

	s.mu.Lock()
	if entry.TrackID == s.current {
		s.mu.Unlock()
		return
	}
	s.current = entry.TrackID
	if s.ready != nil && s.ready.trackID != entry.TrackID {
		s.ready = nil
	}
	role := s.role
	s.mu.Unlock()

	if !ok {
		return
	}
	s.logger.Info("current track changed", "track_id", track.ID, "peer", entry.PeerID)
	if data, ok := s.available(track, protocol.MediaAudio); ok {
		s.setSource(track, data)
	}
	s.showCover(entry, track)
	if role == RoleBroadcaster {
		s.openBarrier(track)
	}
}

// Update runs fn, which mutates the local player, serialized with the
// application of remote state. Hosts must make local changes through
// Update: a change made directly on the player can land between a
// remote apply and its suppression count, which broadcasts the remote
// state back and swallows the local change.
func (s *Session) Update(fn func()) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	fn()
}

// applyQueue installs a queue received from a peer. The suppression
// counter is raised before the player is touched: one unit for the
// queue change and one more when the index moves.
func (s *Session) applyQueue(from string, update protocol.QueueUpdate) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	units := 1
	if update.Index != s.player.Snapshot().Queue.Index {
		units = 2
	}
	s.mu.Lock()
	s.suppress += units
	s.mu.Unlock()

	s.logger.Debug("applying remote queue", "peer", from, "entries", len(update.Order), "index", update.Index)
	s.player.SetQueue(update)
}

func (s *Session) applyRepeat(from string, repeat bool) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.player.Snapshot().Repeat == repeat {
		return
	}
	s.mu.Lock()
	s.suppress++
	s.mu.Unlock()

	s.logger.Debug("applying remote repeat", "peer", from, "repeat", repeat)
	s.player.SetRepeat(repeat)
}

func (s *Session) applyPlayback(from string, state protocol.PlaybackState) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.player.Snapshot().Playback == state {
		return
	}
	s.mu.Lock()
	s.skipPlayback = true
	s.mu.Unlock()

	s.logger.Debug("applying remote playback", "peer", from, "state", string(state))
	s.player.SetPlayback(state)
}

func (s *Session) applySeek(from string, position time.Duration) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	s.skipSeek = true
	s.mu.Unlock()

	s.logger.Debug("applying remote seek", "peer", from, "position", position)
	s.player.Seek(position)
}

func (s *Session) broadcastChange(change playerstate.Change) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	snapshot := s.player.Snapshot()
	switch change {
	case playerstate.ChangeQueue, playerstate.ChangeIndex:
		s.notifyAll(protocol.EventQueue, snapshot.Queue)
	case playerstate.ChangeRepeat:
		s.notifyAll(protocol.EventRepeat, protocol.RepeatUpdate{Repeat: snapshot.Repeat})
	case playerstate.ChangePlayback:
		s.notifyAll(protocol.EventPlayback, protocol.PlaybackUpdate{State: snapshot.Playback})
	case playerstate.ChangeSeek:
		s.notifyAll(protocol.EventSeek, protocol.SeekUpdate{Position: snapshot.Position})
	}
}

// broadcast notifies every connected peer.
func (s *Session) broadcast(event protocol.Event, payload any) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	s.notifyAll(event, payload)
}

func (s *Session) notifyAll(event protocol.Event, payload any) {
	for _, peer := range s.connectedPeers() {
		s.notify(peer, event, payload)
	}
}

// notify sends event to one peer. A closed channel is logged, not
// propagated: the peer is on its way out of the room.
func (s *Session) notify(peer protocol.Transport, event protocol.Event, payload any) {
	err := peer.Notify(s.ctx, event, payload)
	switch {
	case err == nil:
		s.logger.Debug("sent", "peer", peer.PeerID(), "event", string(event))
	case errors.Is(err, protocol.ErrChannelClosed), errors.Is(err, protocol.ErrTransportClosed):
		s.logger.Debug("dropping message to closed peer", "peer", peer.PeerID(), "event", string(event))
	default:
		s.logger.Warn("sending to peer failed", "peer", peer.PeerID(), "event", string(event), "error", err)
	}
}

// pushState sends the queue and repeat flag to a peer that has just
// connected.
func (s *Session) pushState(peer protocol.Transport) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	snapshot := s.player.Snapshot()
	s.notify(peer, protocol.EventQueue, snapshot.Queue)
	s.notify(peer, protocol.EventRepeat, protocol.RepeatUpdate{Repeat: snapshot.Repeat})
}

func (s *Session) connectedPeers() []protocol.Transport {
	var connected []protocol.Transport
	for _, peer := range s.mediator.Peers() {
		if peer.State() == protocol.StateConnected {
			connected = append(connected, peer)
		}
	}
	return connected
}

func (s *Session) connectedPeer(peerID string) (protocol.Transport, bool) {
	peer, ok := s.mediator.Peer(peerID)
	if !ok || peer.State() != protocol.StateConnected {
		return nil, false
	}
	return peer, true
}

// track returns the queued descriptor of trackID.
func (s *Session) track(trackID string) protocol.Track {
	if track, ok := s.player.Snapshot().Queue.Data[trackID]; ok {
		return track
	}
	return protocol.Track{ID: trackID, Source: protocol.SourceLocal}
}

func (s *Session) setSource(track protocol.Track, data []byte) {
	if err := s.sink.SetSource(track, data); err != nil {
		s.logger.Warn("setting playback source failed", "track_id", track.ID, "error", err)
	}
}

func (s *Session) setCover(track protocol.Track, data []byte) {
	if err := s.sink.SetCover(track, data); err != nil {
		s.logger.Warn("setting cover failed", "track_id", track.ID, "error", err)
	}
}
