// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "time"

// TrackSource says where a track's audio comes from.
type TrackSource string

const (
	// SourceLocal tracks are files on some peer's disk. A peer that
	// does not have the file must fetch it from the peer that offered
	// it before playback can start.
	SourceLocal TrackSource = "local"

	// SourceStream tracks are played from Track.URL by every peer
	// independently and are always ready.
	SourceStream TrackSource = "stream"
)

// Track is the full descriptor of one queued track.
type Track struct {
	ID       string        `cbor:"id"`
	Title    string        `cbor:"title,omitempty"`
	Artist   string        `cbor:"artist,omitempty"`
	Album    string        `cbor:"album,omitempty"`
	Duration time.Duration `cbor:"duration,omitempty"`
	Source   TrackSource   `cbor:"source"`
	URL      string        `cbor:"url,omitempty"`
	CoverURL string        `cbor:"cover_url,omitempty"`

	// OfferedBy is the peer id that first added the track to the queue.
	OfferedBy string `cbor:"offered_by,omitempty"`
}

// QueueEntry is one position in the queue order.
type QueueEntry struct {
	TrackID string `cbor:"track_id"`

	// PeerID names the peer that can supply the track's bytes.
	PeerID string `cbor:"peer_id"`
}

// QueueUpdate is the payload of a queue event: the complete order, the
// current index into it, and a descriptor for every track in the order.
type QueueUpdate struct {
	Order []QueueEntry     `cbor:"order"`
	Index int              `cbor:"index"`
	Data  map[string]Track `cbor:"data"`
}

// Current returns the entry at Index, if Index is in range.
func (u QueueUpdate) Current() (QueueEntry, bool) {
	if u.Index < 0 || u.Index >= len(u.Order) {
		return QueueEntry{}, false
	}
	return u.Order[u.Index], true
}

// QueueState answers request_queue with everything a peer needs to
// mirror the queue.
type QueueState struct {
	Queue  QueueUpdate `cbor:"queue"`
	Repeat bool        `cbor:"repeat"`
}

// RepeatUpdate is the payload of a repeat event.
type RepeatUpdate struct {
	Repeat bool `cbor:"repeat"`
}

// PlaybackState is the transport state of the playback element.
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
)

// PlaybackUpdate is the payload of a playback event.
type PlaybackUpdate struct {
	State PlaybackState `cbor:"state"`
}

// SeekUpdate is the payload of a seek event.
type SeekUpdate struct {
	Position time.Duration `cbor:"position"`
}

// MediaKind selects which bytes of a track a stream carries.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaCover MediaKind = "cover"
)

// MediaRequest asks the receiving peer to stream a track's bytes back
// to the sender.
type MediaRequest struct {
	TrackID string    `cbor:"track_id"`
	Kind    MediaKind `cbor:"kind"`
}

// MediaReply answers request_media. When Accepted is true the stream
// follows on the media channel.
type MediaReply struct {
	Accepted bool   `cbor:"accepted"`
	Reason   string `cbor:"reason,omitempty"`
}

// ReadyRequest opens a ready barrier for a track.
type ReadyRequest struct {
	TrackID string `cbor:"track_id"`
}

// ReadySignal is the payload of ready and all_ready.
type ReadySignal struct {
	TrackID string `cbor:"track_id"`
}

// Media is a reassembled stream delivered to the stream handler.
type Media struct {
	TrackID string
	Kind    MediaKind
	Data    []byte
}

// Stream encodings.
const (
	EncodingIdentity = "identity"
	EncodingZstd     = "zstd"
)

// StreamHeader opens a media stream on the media channel. Size is the
// length of the bytes as sent, after any encoding. Digest is the
// blake3-256 of the decoded bytes.
type StreamHeader struct {
	StreamID string    `cbor:"stream_id"`
	TrackID  string    `cbor:"track_id"`
	Kind     MediaKind `cbor:"kind"`
	Size     int64     `cbor:"size"`
	Encoding string    `cbor:"encoding"`
	Digest   []byte    `cbor:"digest"`
}
