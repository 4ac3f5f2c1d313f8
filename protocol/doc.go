// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the application protocol spoken between
// syncroom peers once a direct channel is open, and the [Transport]
// capability every point-to-point technology must provide.
//
// Every envelope is a [Message] encoded as CBOR (see lib/codec):
//
//	{id: string, event: Event, data: payload, type: REQUEST|RESPONSE}
//
// A REQUEST with id X produces at most one RESPONSE with id X on the same
// transport. The event enumeration is closed and versioned by [Version];
// a peer that receives an event it has no handler for drops it without
// replying, which lets peers of different revisions share a room.
//
// Payload schemas per event:
//
//	request_queue  REQUEST none              RESPONSE QueueState
//	queue          REQUEST QueueUpdate       RESPONSE none
//	repeat         REQUEST RepeatUpdate      RESPONSE none
//	playback       REQUEST PlaybackUpdate    RESPONSE none
//	seek           REQUEST SeekUpdate        RESPONSE none
//	request_media  REQUEST MediaRequest      RESPONSE MediaReply
//	request_ready  REQUEST ReadyRequest      RESPONSE none
//	ready          REQUEST ReadySignal       RESPONSE none
//	all_ready      REQUEST ReadySignal       RESPONSE none
//
// Media bytes never travel in an envelope. They are delivered as a
// separate stream ([Transport].Stream) and surface on the receiving side
// through the [Router]'s stream handler as a [Media] value.
//
// A [Router] holds the responders of one process. It is shared by every
// transport the process creates, so a handler registered once answers
// requests from all peers; the from argument names the asking peer.
package protocol
