// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/syncroom/syncroom/lib/codec"
)

// Version is the revision of the event set and payload schemas. Bump
// it when an existing payload changes shape incompatibly; adding a new
// event does not require a bump.
const Version = 1

// Kind tags an envelope as a request or the response to one.
type Kind string

const (
	KindRequest  Kind = "REQUEST"
	KindResponse Kind = "RESPONSE"
)

// Event names one message type of the closed enumeration.
type Event string

const (
	EventRequestQueue Event = "request_queue"
	EventQueue        Event = "queue"
	EventRepeat       Event = "repeat"
	EventPlayback     Event = "playback"
	EventSeek         Event = "seek"
	EventRequestMedia Event = "request_media"
	EventRequestReady Event = "request_ready"
	EventReady        Event = "ready"
	EventAllReady     Event = "all_ready"
)

var knownEvents = map[Event]bool{
	EventRequestQueue: true,
	EventQueue:        true,
	EventRepeat:       true,
	EventPlayback:     true,
	EventSeek:         true,
	EventRequestMedia: true,
	EventRequestReady: true,
	EventReady:        true,
	EventAllReady:     true,
}

// ErrUnknownEvent is returned by Parse for an envelope whose event is
// not in this revision's set, typically sent by a newer peer.
var ErrUnknownEvent = errors.New("unknown event")

// Known reports whether e belongs to this revision's event set.
func (e Event) Known() bool { return knownEvents[e] }

// Message is the envelope carried on a peer channel.
type Message struct {
	ID    string           `cbor:"id"`
	Event Event            `cbor:"event"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
	Type  Kind             `cbor:"type"`

	// Error is set on a RESPONSE whose handler failed. Data is empty
	// in that case.
	Error string `cbor:"error,omitempty"`

	// NoReply marks a REQUEST sent by Notify. The receiver runs the
	// handler and sends nothing back.
	NoReply bool `cbor:"no_reply,omitempty"`
}

// NewRequest builds a REQUEST for event with a fresh correlation id. A
// nil payload produces an envelope without data.
func NewRequest(event Event, payload any) (*Message, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return &Message{
		ID:    uuid.NewString(),
		Event: event,
		Data:  data,
		Type:  KindRequest,
	}, nil
}

// NewNotification builds a REQUEST for event that the receiver must not
// answer.
func NewNotification(event Event, payload any) (*Message, error) {
	message, err := NewRequest(event, payload)
	if err != nil {
		return nil, err
	}
	message.NoReply = true
	return message, nil
}

// Reply builds the RESPONSE to m carrying payload.
func (m *Message) Reply(payload any) (*Message, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", m.Event, err)
	}
	return &Message{
		ID:    m.ID,
		Event: m.Event,
		Data:  data,
		Type:  KindResponse,
	}, nil
}

// ReplyError builds a RESPONSE to m reporting that its handler failed.
func (m *Message) ReplyError(err error) *Message {
	return &Message{
		ID:    m.ID,
		Event: m.Event,
		Type:  KindResponse,
		Error: err.Error(),
	}
}

// Encode serializes m for the wire.
func (m *Message) Encode() ([]byte, error) {
	return codec.Marshal(m)
}

// Parse decodes one envelope read from a peer channel.
func Parse(data []byte) (*Message, error) {
	var message Message
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if message.ID == "" {
		return nil, errors.New("envelope has no id")
	}
	if message.Type != KindRequest && message.Type != KindResponse {
		return nil, fmt.Errorf("envelope %s has invalid type %q", message.ID, message.Type)
	}
	if !message.Event.Known() {
		return nil, fmt.Errorf("envelope %s: %w %q", message.ID, ErrUnknownEvent, message.Event)
	}
	return &message, nil
}

// Decode unmarshals an event payload into v.
func Decode(data codec.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	return codec.Unmarshal(data, v)
}

// RemoteError is returned by Transport.Send when the peer's handler
// failed.
type RemoteError struct {
	Event   Event
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer failed handling %s: %s", e.Event, e.Message)
}

func encodePayload(payload any) (codec.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(codec.RawMessage); ok {
		return raw, nil
	}
	return codec.Marshal(payload)
}
