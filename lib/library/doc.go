// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package library connects a session to media on disk. [Directory]
// answers whether audio or cover art for a track exists locally and
// reads its bytes. [Spool] is the sink side: it turns fetched bytes,
// local files, or stream URLs into a URI for the playback element.
package library
