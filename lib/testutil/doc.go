// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed], and [Eventually] wrap the timeout
// safety valve (select with a wall-clock fallback) so that tests which
// wait on peer connections or data channel delivery fail with a message
// instead of hanging.
//
// All helpers call t.Fatalf on failure.
package testutil
