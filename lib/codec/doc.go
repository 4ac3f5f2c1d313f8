// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides syncroom's CBOR encoding configuration.
//
// Two formats are in use, with a fixed boundary:
//
//   - JSON for the mediator control connection, which is a third-party
//     service speaking a JSON event protocol.
//   - CBOR for everything that travels peer to peer over the data
//     channels: the request/response envelope, its payloads, and media
//     stream chunks.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same queue state always produces the same bytes on every peer. The
// decoder ignores unknown fields, which lets peers running a newer
// protocol revision add payload fields without breaking older peers.
//
// Payload types carry `json` struct tags. fxamacker/cbor falls back to
// json tags when cbor tags are absent, so a single tag names the field in
// both formats.
package codec
