// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/syncroom/syncroom/protocol"

// readyWait is a ready signal owed once a track's audio arrives.
type readyWait struct {
	trackID string

	// replyTo is the peer that asked. Empty for the broadcaster's own
	// barrier.
	replyTo string
}

// barrier tracks the peers the broadcaster is waiting on before it
// clears the loading indicator.
type barrier struct {
	trackID string
	waiting map[string]bool
}

// openBarrier starts waiting for this process and every connected peer
// to be ready to play track. It replaces any open barrier.
func (s *Session) openBarrier(track protocol.Track) {
	localID := s.mediator.LocalID()
	peers := s.connectedPeers()
	b := &barrier{trackID: track.ID, waiting: map[string]bool{localID: true}}
	for _, peer := range peers {
		b.waiting[peer.PeerID()] = true
	}

	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	s.barrier = b
	s.mu.Unlock()

	s.player.SetLoading(true)
	s.logger.Info("ready barrier opened", "track_id", track.ID, "expected", len(b.waiting))
	s.broadcast(protocol.EventRequestReady, protocol.ReadyRequest{TrackID: track.ID})
	s.HandleReadyRequest(track.ID, "")
}

// HandleReadyRequest answers whether this process is ready to play
// trackID. The loading indicator goes up; if the audio is local, cached,
// or streamed it goes to the sink and ready is signalled to replyTo at
// once, otherwise the signal waits for the fetch. An empty replyTo
// marks the broadcaster's own barrier.
func (s *Session) HandleReadyRequest(trackID, replyTo string) {
	if !s.active() {
		return
	}
	s.player.SetLoading(true)

	wait := &readyWait{trackID: trackID, replyTo: replyTo}
	s.mu.Lock()
	s.ready = wait
	s.mu.Unlock()

	track := s.track(trackID)
	data, ok := s.available(track, protocol.MediaAudio)
	if !ok {
		s.logger.Info("ready deferred until media arrives", "track_id", trackID)
		s.evaluateFetches()
		return
	}

	s.mu.Lock()
	mine := s.ready == wait
	if mine {
		s.ready = nil
	}
	s.mu.Unlock()
	if !mine {
		return
	}
	s.setSource(track, data)
	s.signalReady(*wait)
}

func (s *Session) signalReady(wait readyWait) {
	if wait.replyTo == "" {
		s.markReady(s.mediator.LocalID(), wait.trackID)
		return
	}
	peer, ok := s.connectedPeer(wait.replyTo)
	if !ok {
		s.logger.Debug("ready owed to a peer that left", "peer", wait.replyTo, "track_id", wait.trackID)
		return
	}
	s.logger.Info("signalling ready", "peer", wait.replyTo, "track_id", wait.trackID)
	s.notify(peer, protocol.EventReady, protocol.ReadySignal{TrackID: wait.trackID})
}

// markReady records that peerID is ready for trackID.
func (s *Session) markReady(peerID, trackID string) {
	s.mu.Lock()
	b := s.barrier
	if b == nil || b.trackID != trackID || !b.waiting[peerID] {
		s.mu.Unlock()
		return
	}
	delete(b.waiting, peerID)
	complete := len(b.waiting) == 0
	if complete {
		s.barrier = nil
	}
	s.mu.Unlock()

	s.logger.Debug("peer ready", "peer", peerID, "track_id", trackID)
	if complete {
		s.completeBarrier(trackID)
	}
}

// markGone stops waiting on a peer that left.
func (s *Session) markGone(peerID string) {
	s.mu.Lock()
	b := s.barrier
	if b == nil || !b.waiting[peerID] {
		s.mu.Unlock()
		return
	}
	delete(b.waiting, peerID)
	complete := len(b.waiting) == 0
	if complete {
		s.barrier = nil
	}
	s.mu.Unlock()

	if complete {
		s.completeBarrier(b.trackID)
	}
}

func (s *Session) completeBarrier(trackID string) {
	s.player.SetLoading(false)
	s.logger.Info("all peers ready", "track_id", trackID)
	s.broadcast(protocol.EventAllReady, protocol.ReadySignal{TrackID: trackID})
}
