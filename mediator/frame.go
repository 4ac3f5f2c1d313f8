// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syncroom/syncroom/transport"
)

// Control events of the mediator wire contract.
const (
	eventConnect       = "connect"
	eventCreateRoom    = "createRoom"
	eventJoinRoom      = "joinRoom"
	eventGetAllMembers = "getAllMembers"
	eventMemberJoined  = "memberJoined"

	ackSuffix = "-ack"
)

// Frame is one websocket text message on the control connection.
type Frame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

// NewFrame encodes args as JSON values. Values that are already
// json.RawMessage are passed through.
func NewFrame(event string, args ...any) (Frame, error) {
	frame := Frame{Event: event, Args: make([]json.RawMessage, 0, len(args))}
	for index, arg := range args {
		if raw, ok := arg.(json.RawMessage); ok {
			frame.Args = append(frame.Args, raw)
			continue
		}
		encoded, err := json.Marshal(arg)
		if err != nil {
			return Frame{}, fmt.Errorf("encoding %s argument %d: %w", event, index, err)
		}
		frame.Args = append(frame.Args, encoded)
	}
	return frame, nil
}

// Arg decodes argument index into v.
func (f Frame) Arg(index int, v any) error {
	if index >= len(f.Args) {
		return fmt.Errorf("%s has %d arguments, want at least %d", f.Event, len(f.Args), index+1)
	}
	if err := json.Unmarshal(f.Args[index], v); err != nil {
		return fmt.Errorf("decoding %s argument %d: %w", f.Event, index, err)
	}
	return nil
}

// AckEvent names the acknowledgement of command.
func AckEvent(command string) string { return command + ackSuffix }

// RelayEvent names a relayed negotiation message sent by peerID.
func RelayEvent(kind transport.SignalKind, peerID string) string {
	return string(kind) + "-" + peerID
}

// ParseRelayEvent splits a relay event name into its kind and peer id.
func ParseRelayEvent(event string) (transport.SignalKind, string, bool) {
	for _, kind := range []transport.SignalKind{transport.SignalOffer, transport.SignalAnswer, transport.SignalCandidate} {
		prefix := string(kind) + "-"
		if peerID, ok := strings.CutPrefix(event, prefix); ok && peerID != "" {
			return kind, peerID, true
		}
	}
	return "", "", false
}
