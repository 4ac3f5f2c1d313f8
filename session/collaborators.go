// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"

	"github.com/syncroom/syncroom/lib/playerstate"
	"github.com/syncroom/syncroom/mediator"
	"github.com/syncroom/syncroom/protocol"
)

// Player is the local player state a session mirrors. Observers
// registered with Subscribe must be called synchronously by the
// mutating call: SetQueue notifies ChangeQueue once, then ChangeIndex
// if the index moved; SetRepeat and SetPlayback notify only on change;
// Seek always notifies.
type Player interface {
	Snapshot() playerstate.Snapshot
	SetQueue(update protocol.QueueUpdate)
	SetRepeat(repeat bool)
	SetPlayback(state protocol.PlaybackState)
	Seek(position time.Duration)
	SetLoading(loading bool)
	Subscribe(fn func(playerstate.Change)) func()
}

// Resolver answers whether this process has a track's media.
type Resolver interface {
	HasAudio(trackID string) bool
	HasCover(trackID string) bool
	Audio(trackID string) ([]byte, error)
	Cover(trackID string) ([]byte, error)
}

// Sink hands media to the playback element. data holds bytes fetched
// from a peer, or is nil when the media is local or streamed.
type Sink interface {
	SetSource(track protocol.Track, data []byte) error
	SetCover(track protocol.Track, data []byte) error
}

// Mediator is the room membership a session runs on. It is implemented
// by [mediator.Client].
type Mediator interface {
	Initialize(ctx context.Context) error
	CreateRoom(ctx context.Context) (string, error)
	JoinRoom(ctx context.Context, room string) (string, error)
	LocalID() string
	Peers() []protocol.Transport
	Peer(peerID string) (protocol.Transport, bool)
	Watch(observer mediator.PeerObserver)
	Done() <-chan struct{}
	Close() error
}

var _ Mediator = (*mediator.Client)(nil)
