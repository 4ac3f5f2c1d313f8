// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncroom/syncroom/protocol"
)

// ErrMediaRejected is returned when a supplier declines request_media.
var ErrMediaRejected = errors.New("media request rejected")

// fetch is the single outstanding audio fetch of a session.
type fetch struct {
	trackID string
	peerID  string

	// done is closed when the stream arrives.
	done chan struct{}
}

// available reports whether track's media of kind can be played without
// fetching. data is non-nil only for bytes fetched earlier.
func (s *Session) available(track protocol.Track, kind protocol.MediaKind) (data []byte, ok bool) {
	if kind == protocol.MediaAudio && track.Source == protocol.SourceStream {
		return nil, true
	}
	s.mu.Lock()
	cached, hit := s.cache[mediaKey{trackID: track.ID, kind: kind}]
	s.mu.Unlock()
	if hit {
		return cached, true
	}
	if kind == protocol.MediaCover {
		return nil, s.resolver.HasCover(track.ID) || track.CoverURL != ""
	}
	return nil, s.resolver.HasAudio(track.ID)
}

// mediaBytes returns the bytes this process can stream for trackID.
func (s *Session) mediaBytes(trackID string, kind protocol.MediaKind) ([]byte, error) {
	s.mu.Lock()
	cached, hit := s.cache[mediaKey{trackID: trackID, kind: kind}]
	s.mu.Unlock()
	if hit {
		return cached, nil
	}
	switch kind {
	case protocol.MediaAudio:
		return s.resolver.Audio(trackID)
	case protocol.MediaCover:
		return s.resolver.Cover(trackID)
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
}

// evaluateFetches starts fetching the first queued track whose audio
// another peer supplies and this process lacks. It does nothing while
// a fetch is in flight.
func (s *Session) evaluateFetches() {
	if !s.active() {
		return
	}
	if _, fetching := s.Fetching(); fetching {
		return
	}

	snapshot := s.player.Snapshot()
	localID := s.mediator.LocalID()
	for _, entry := range snapshot.Queue.Order {
		if entry.PeerID == "" || entry.PeerID == localID {
			continue
		}
		track, ok := snapshot.Queue.Data[entry.TrackID]
		if !ok {
			track = protocol.Track{ID: entry.TrackID, Source: protocol.SourceLocal}
		}
		if _, ok := s.available(track, protocol.MediaAudio); ok {
			continue
		}
		peer, ok := s.connectedPeer(entry.PeerID)
		if !ok {
			continue
		}
		s.startFetch(peer, track.ID)
		return
	}
}

// startFetch claims the fetch slot for trackID. A second fetch while one
// is in flight is a no-op.
func (s *Session) startFetch(peer protocol.Transport, trackID string) bool {
	s.mu.Lock()
	if s.fetch != nil || !s.activeLocked() {
		s.mu.Unlock()
		return false
	}
	f := &fetch{trackID: trackID, peerID: peer.PeerID(), done: make(chan struct{})}
	s.fetch = f
	s.mu.Unlock()

	go s.runFetch(peer, f)
	return true
}

func (s *Session) runFetch(peer protocol.Transport, f *fetch) {
	logger := s.logger.With("peer", f.peerID, "track_id", f.trackID)
	logger.Info("fetching media")

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	timer := s.clock.AfterFunc(s.fetchTimeout, cancel)
	defer timer.Stop()

	if err := s.requestMedia(ctx, peer, f.trackID, protocol.MediaAudio); err != nil {
		s.abandonFetch(f, err)
		return
	}

	select {
	case <-f.done:
		logger.Info("media fetched")
	case <-peer.Done():
		s.abandonFetch(f, fmt.Errorf("supplier %s: %w", f.peerID, protocol.ErrTransportClosed))
	case <-ctx.Done():
		if s.ctx.Err() != nil {
			s.abandonFetch(f, ErrSessionClosed)
			return
		}
		s.abandonFetch(f, fmt.Errorf("no media after %s", s.fetchTimeout))
	}
}

// abandonFetch frees the fetch slot. The track is retried the next time
// the queue is evaluated.
func (s *Session) abandonFetch(f *fetch, reason error) {
	s.mu.Lock()
	if s.fetch != f {
		s.mu.Unlock()
		return
	}
	s.fetch = nil
	s.mu.Unlock()
	s.logger.Warn("media fetch failed", "peer", f.peerID, "track_id", f.trackID, "error", reason)
}

func (s *Session) requestMedia(ctx context.Context, peer protocol.Transport, trackID string, kind protocol.MediaKind) error {
	data, err := peer.Send(ctx, protocol.EventRequestMedia, protocol.MediaRequest{TrackID: trackID, Kind: kind})
	if err != nil {
		return fmt.Errorf("requesting %s %s: %w", kind, trackID, err)
	}
	var reply protocol.MediaReply
	if err := protocol.Decode(data, &reply); err != nil {
		return fmt.Errorf("decoding media reply: %w", err)
	}
	if !reply.Accepted {
		return fmt.Errorf("%w: %s %s by %s: %s", ErrMediaRejected, kind, trackID, peer.PeerID(), reply.Reason)
	}
	return nil
}

// showCover hands the current track's cover art to the sink, or asks
// the supplying peer for it once per track.
func (s *Session) showCover(entry protocol.QueueEntry, track protocol.Track) {
	if data, ok := s.available(track, protocol.MediaCover); ok {
		s.setCover(track, data)
		return
	}
	if entry.PeerID == "" || entry.PeerID == s.mediator.LocalID() {
		return
	}
	peer, ok := s.connectedPeer(entry.PeerID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.covers[track.ID] {
		s.mu.Unlock()
		return
	}
	s.covers[track.ID] = true
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		timer := s.clock.AfterFunc(s.fetchTimeout, cancel)
		defer timer.Stop()

		if err := s.requestMedia(ctx, peer, track.ID, protocol.MediaCover); err != nil {
			s.mu.Lock()
			delete(s.covers, track.ID)
			s.mu.Unlock()
			s.logger.Debug("cover request failed", "peer", entry.PeerID, "track_id", track.ID, "error", err)
		}
	}()
}

// receiveMedia handles a stream from a peer. Bytes are cached, the
// matching fetch completes, and a deferred ready signal is sent.
func (s *Session) receiveMedia(from string, media protocol.Media) {
	if !s.active() {
		return
	}

	s.mu.Lock()
	s.cache[mediaKey{trackID: media.TrackID, kind: media.Kind}] = media.Data
	var completed *fetch
	var wait *readyWait
	if media.Kind == protocol.MediaAudio {
		if s.fetch != nil && s.fetch.trackID == media.TrackID {
			completed = s.fetch
			s.fetch = nil
		}
		if s.ready != nil && s.ready.trackID == media.TrackID {
			wait = s.ready
			s.ready = nil
		}
	}
	current := s.current
	s.mu.Unlock()

	if completed != nil {
		close(completed.done)
	}
	s.logger.Info("media received", "peer", from, "track_id", media.TrackID, "kind", string(media.Kind), "bytes", len(media.Data))

	if media.TrackID == current {
		track := s.track(media.TrackID)
		if media.Kind == protocol.MediaAudio {
			s.setSource(track, media.Data)
		} else {
			s.setCover(track, media.Data)
		}
	}
	if wait != nil {
		s.signalReady(*wait)
	}
	if media.Kind == protocol.MediaAudio {
		s.evaluateFetches()
	}
}

// serveMedia answers request_media: when the bytes are here it accepts
// and streams them to the requester after replying.
func (s *Session) serveMedia(from string, request protocol.MediaRequest) protocol.MediaReply {
	if request.Kind != protocol.MediaAudio && request.Kind != protocol.MediaCover {
		return protocol.MediaReply{Reason: fmt.Sprintf("unknown media kind %q", request.Kind)}
	}
	data, err := s.mediaBytes(request.TrackID, request.Kind)
	if err != nil {
		s.logger.Debug("cannot serve media", "peer", from, "track_id", request.TrackID, "kind", string(request.Kind), "error", err)
		return protocol.MediaReply{Reason: "not available"}
	}
	peer, ok := s.connectedPeer(from)
	if !ok {
		return protocol.MediaReply{Reason: "not connected"}
	}

	go func() {
		media := protocol.Media{TrackID: request.TrackID, Kind: request.Kind, Data: data}
		if err := peer.Stream(s.ctx, media); err != nil {
			s.logger.Warn("streaming media failed", "peer", from, "track_id", request.TrackID, "error", err)
			return
		}
		s.logger.Info("media served", "peer", from, "track_id", request.TrackID, "kind", string(request.Kind), "bytes", len(data))
	}()
	return protocol.MediaReply{Accepted: true}
}
