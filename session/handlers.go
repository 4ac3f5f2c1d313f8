// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/syncroom/syncroom/lib/codec"
	"github.com/syncroom/syncroom/protocol"
)

func (s *Session) registerHandlers() {
	s.router.Handle(protocol.EventRequestQueue, s.handleRequestQueue)
	s.router.Handle(protocol.EventQueue, s.handleQueue)
	s.router.Handle(protocol.EventRepeat, s.handleRepeat)
	s.router.Handle(protocol.EventPlayback, s.handlePlayback)
	s.router.Handle(protocol.EventSeek, s.handleSeek)
	s.router.Handle(protocol.EventRequestMedia, s.handleRequestMedia)
	s.router.Handle(protocol.EventRequestReady, s.handleRequestReady)
	s.router.Handle(protocol.EventReady, s.handleReady)
	s.router.Handle(protocol.EventAllReady, s.handleAllReady)
	s.router.HandleStream(s.receiveMedia)
}

func (s *Session) handleRequestQueue(_ context.Context, _ string, _ codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	snapshot := s.player.Snapshot()
	return protocol.QueueState{Queue: snapshot.Queue, Repeat: snapshot.Repeat}, nil
}

func (s *Session) handleQueue(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var update protocol.QueueUpdate
	if err := protocol.Decode(data, &update); err != nil {
		return nil, err
	}
	s.applyQueue(from, update)
	s.evaluateFetches()
	return nil, nil
}

func (s *Session) handleRepeat(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var update protocol.RepeatUpdate
	if err := protocol.Decode(data, &update); err != nil {
		return nil, err
	}
	s.applyRepeat(from, update.Repeat)
	return nil, nil
}

func (s *Session) handlePlayback(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var update protocol.PlaybackUpdate
	if err := protocol.Decode(data, &update); err != nil {
		return nil, err
	}
	s.applyPlayback(from, update.State)
	return nil, nil
}

func (s *Session) handleSeek(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var update protocol.SeekUpdate
	if err := protocol.Decode(data, &update); err != nil {
		return nil, err
	}
	s.applySeek(from, update.Position)
	return nil, nil
}

func (s *Session) handleRequestMedia(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var request protocol.MediaRequest
	if err := protocol.Decode(data, &request); err != nil {
		return nil, err
	}
	return s.serveMedia(from, request), nil
}

func (s *Session) handleRequestReady(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var request protocol.ReadyRequest
	if err := protocol.Decode(data, &request); err != nil {
		return nil, err
	}
	s.HandleReadyRequest(request.TrackID, from)
	return nil, nil
}

func (s *Session) handleReady(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var signal protocol.ReadySignal
	if err := protocol.Decode(data, &signal); err != nil {
		return nil, err
	}
	s.markReady(from, signal.TrackID)
	return nil, nil
}

func (s *Session) handleAllReady(_ context.Context, from string, data codec.RawMessage) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var signal protocol.ReadySignal
	if err := protocol.Decode(data, &signal); err != nil {
		return nil, err
	}
	s.logger.Info("room ready", "peer", from, "track_id", signal.TrackID)
	s.player.SetLoading(false)
	return nil, nil
}
