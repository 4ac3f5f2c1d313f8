// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds connection helpers shared by the mediator client
// and the peer transport.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// IsExpectedCloseError reports whether err is an ordinary connection
// termination rather than a failure worth logging: EOF, a closed
// connection, a broken pipe, a reset, or a websocket close frame with a
// normal or going-away code.
//
// Read loops use this to log teardown at debug level while still
// surfacing genuine protocol or network errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
