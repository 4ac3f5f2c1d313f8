// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the point-to-point channels syncroom peers
// use once the mediator has introduced them.
//
// [WebRTC] implements protocol.Transport over a pion PeerConnection with
// two ordered, reliable data channels: text-channel carries CBOR
// envelopes, media-channel carries media streams. One WebRTC value
// exists per remote peer. [NewFactory] produces them for the mediator
// client.
//
// Negotiation is trickle ICE relayed by a [Signaler]: descriptions are
// relayed as soon as they are set and candidates follow as they are
// gathered. Candidates that arrive before the remote description are
// buffered and applied once it is set. An offer is only made while the
// signaling state is stable, and a remote answer is only applied while
// an offer is outstanding. When both peers offer at once, a deterministic
// tie-break resolves the collision: the peer whose id is
// lexicographically greater drops its PeerConnection and answers, the
// other ignores the colliding offer.
//
// Requests from the peer are answered through a shared protocol.Router
// on a per-transport dispatch goroutine, in arrival order. Responses
// resolve the matching pending Send; responses nobody waits for (the
// peer answering a Notify, or a Send whose caller gave up) are dropped.
// Teardown rejects every pending Send with protocol.ErrTransportClosed.
//
// Media streams are split into chunk_size frames: a [protocol.StreamHeader]
// carrying the size, encoding, and blake3 digest, the chunks, and an end
// marker. The receiver enforces the size limit, optionally decompresses
// (zstd), verifies the digest, and hands the bytes to the Router's stream
// handler. Writing pauses while SCTP has more than a megabyte queued.
//
// [Memory] is an in-process protocol.Transport pair with the same
// envelope semantics, used to test session logic without pion.
// [MemoryHub] is an in-process relay for testing WebRTC negotiation.
package transport
