// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package playerstate

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/syncroom/syncroom/protocol"
)

// Change names the part of the player state a mutation touched.
type Change int

const (
	ChangeQueue Change = iota
	ChangeIndex
	ChangeRepeat
	ChangePlayback
	ChangeSeek
)

func (c Change) String() string {
	switch c {
	case ChangeQueue:
		return "queue"
	case ChangeIndex:
		return "index"
	case ChangeRepeat:
		return "repeat"
	case ChangePlayback:
		return "playback"
	case ChangeSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the player state at one instant. Callers may
// keep and modify it.
type Snapshot struct {
	Queue    protocol.QueueUpdate
	Repeat   bool
	Playback protocol.PlaybackState
	Position time.Duration
	Loading  bool
}

// Current returns the entry and descriptor of the current track.
func (s Snapshot) Current() (protocol.QueueEntry, protocol.Track, bool) {
	entry, ok := s.Queue.Current()
	if !ok {
		return protocol.QueueEntry{}, protocol.Track{}, false
	}
	track, ok := s.Queue.Data[entry.TrackID]
	if !ok {
		track = protocol.Track{ID: entry.TrackID, Source: protocol.SourceLocal}
	}
	return entry, track, true
}

// State is an in-memory player state. It is safe for concurrent use.
// Observers run synchronously on the mutating goroutine after the lock
// is released, in subscription order.
type State struct {
	mu        sync.Mutex
	queue     protocol.QueueUpdate
	repeat    bool
	playback  protocol.PlaybackState
	position  time.Duration
	loading   bool
	observers map[int]func(Change)
	nextID    int
}

// New returns an empty, stopped player.
func New() *State {
	return &State{
		queue:     protocol.QueueUpdate{Data: make(map[string]protocol.Track)},
		playback:  protocol.PlaybackStopped,
		observers: make(map[int]func(Change)),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Queue:    cloneQueue(s.queue),
		Repeat:   s.repeat,
		Playback: s.playback,
		Position: s.position,
		Loading:  s.loading,
	}
}

// Subscribe registers fn for every subsequent change. The returned
// function removes it.
func (s *State) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// SetQueue replaces the queue. It notifies ChangeQueue once, then
// ChangeIndex if the index moved.
func (s *State) SetQueue(update protocol.QueueUpdate) {
	s.mu.Lock()
	moved := update.Index != s.queue.Index
	s.queue = cloneQueue(update)
	s.mu.Unlock()

	s.notify(ChangeQueue)
	if moved {
		s.notify(ChangeIndex)
	}
}

// Enqueue appends track, supplied by peerID, to the end of the queue.
// It notifies ChangeQueue.
func (s *State) Enqueue(track protocol.Track, peerID string) {
	s.mu.Lock()
	s.queue.Order = append(s.queue.Order, protocol.QueueEntry{TrackID: track.ID, PeerID: peerID})
	s.queue.Data[track.ID] = track
	s.mu.Unlock()

	s.notify(ChangeQueue)
}

// SetIndex moves the current position in the queue. It notifies
// ChangeIndex when the index changed.
func (s *State) SetIndex(index int) {
	s.mu.Lock()
	if index == s.queue.Index {
		s.mu.Unlock()
		return
	}
	s.queue.Index = index
	s.mu.Unlock()

	s.notify(ChangeIndex)
}

// SetRepeat notifies ChangeRepeat when the value changed.
func (s *State) SetRepeat(repeat bool) {
	s.mu.Lock()
	if repeat == s.repeat {
		s.mu.Unlock()
		return
	}
	s.repeat = repeat
	s.mu.Unlock()

	s.notify(ChangeRepeat)
}

// SetPlayback notifies ChangePlayback when the state changed.
func (s *State) SetPlayback(state protocol.PlaybackState) {
	s.mu.Lock()
	if state == s.playback {
		s.mu.Unlock()
		return
	}
	s.playback = state
	s.mu.Unlock()

	s.notify(ChangePlayback)
}

// Seek moves the playback position. It always notifies ChangeSeek.
func (s *State) Seek(position time.Duration) {
	s.mu.Lock()
	s.position = position
	s.mu.Unlock()

	s.notify(ChangeSeek)
}

// SetLoading sets the shared loading indicator. It notifies nobody.
func (s *State) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// Loading reports the loading indicator.
func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *State) notify(change Change) {
	s.mu.Lock()
	ids := slices.Sorted(maps.Keys(s.observers))
	observers := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}

func cloneQueue(queue protocol.QueueUpdate) protocol.QueueUpdate {
	data := maps.Clone(queue.Data)
	if data == nil {
		data = make(map[string]protocol.Track)
	}
	return protocol.QueueUpdate{
		Order: slices.Clone(queue.Order),
		Index: queue.Index,
		Data:  data,
	}
}
