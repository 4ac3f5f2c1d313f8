// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Syncroom joins a listening room and keeps music playback in step
// with every other peer in it.
//
// "syncroom create" opens a room and prints its id; this process
// becomes the broadcaster and runs the ready barrier. "syncroom join
// <room-id>" enters an existing room as a watcher. Peers find each other
// through the signaling mediator named by mediator.url and exchange
// state and media over WebRTC data channels.
//
// Tracks are read from media.root as <track_id>.<ext>; tracks fetched
// from peers land in media.spool. Player commands are read from
// standard input. The process runs until SIGINT, SIGTERM, or loss of
// the mediator connection.
package main
