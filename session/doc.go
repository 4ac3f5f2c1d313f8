// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package session keeps the player state of every peer in a room in
// step.
//
// A [Session] observes the local [Player] and broadcasts each change of
// queue, index, repeat flag, playback state, and position to every
// connected peer. Messages from peers are applied to the player in turn.
// A remotely caused change must not be broadcast again, so before
// applying a queue the session raises a suppression counter by the
// number of notifications the player will emit (one for the queue, one
// more when the index moves), and the observer consumes one unit per
// notification instead of broadcasting. Playback and seek use one-shot
// flags armed only when the remote value changes local state.
//
// Media follows the queue. Tracks another peer supplies are fetched one
// at a time with request_media; the bytes arrive as a stream on the
// media channel, are cached for the session's lifetime, and are handed
// to the [Sink] when the track is current. A failed or timed-out fetch
// frees the slot and is retried on the next queue evaluation.
//
// The broadcaster runs a ready barrier whenever the current track
// changes and whenever a peer joins: the loading indicator stays up
// until this process and every connected peer has signalled ready, then
// all_ready is broadcast.
//
// Lifecycle:
//
//	uninitialized → connecting → broadcaster-active | watcher-active → closed
//
// The session closes on Leave or when the mediator connection is lost;
// it never reconnects.
package session
