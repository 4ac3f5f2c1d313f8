// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package playerstate holds the player state a session mirrors: queue
// order and descriptors, current index, repeat flag, playback state,
// position, and the shared loading indicator.
//
// [State] notifies observers of each mutation with a [Change]. The
// notification contract is exact because sessions count on it:
// SetQueue notifies ChangeQueue once and then ChangeIndex if the index
// moved, SetRepeat and SetPlayback notify only when the value changed,
// and Seek always notifies.
package playerstate
