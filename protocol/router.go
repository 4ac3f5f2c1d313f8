// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"sync"

	"github.com/syncroom/syncroom/lib/codec"
)

// Handler answers one REQUEST event from peer from. The returned value
// becomes the RESPONSE payload; nil produces an empty response.
type Handler func(ctx context.Context, from string, data codec.RawMessage) (any, error)

// StreamHandler receives completed media streams.
type StreamHandler func(from string, media Media)

// Router maps events to handlers. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[Event]Handler
	stream   StreamHandler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Event]Handler)}
}

// Handle registers handler for event, replacing any previous one.
func (r *Router) Handle(event Event, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = handler
}

// HandleStream registers the handler for inbound media streams.
func (r *Router) HandleStream(handler StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = handler
}

// Dispatch runs the handler for a REQUEST and returns the RESPONSE to
// write back. It returns false when there is nothing to send: message is
// not a REQUEST, no handler is registered for its event, or it is a
// notification.
func (r *Router) Dispatch(ctx context.Context, from string, message *Message) (*Message, bool) {
	if message.Type != KindRequest {
		return nil, false
	}

	r.mu.RLock()
	handler, ok := r.handlers[message.Event]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	result, err := handler(ctx, from, message.Data)
	if message.NoReply {
		return nil, false
	}
	if err != nil {
		return message.ReplyError(err), true
	}
	response, err := message.Reply(result)
	if err != nil {
		return message.ReplyError(err), true
	}
	return response, true
}

// DispatchStream hands a completed stream to the stream handler. It
// reports false when none is registered.
func (r *Router) DispatchStream(from string, media Media) bool {
	r.mu.RLock()
	handler := r.stream
	r.mu.RUnlock()
	if handler == nil {
		return false
	}
	handler(from, media)
	return true
}
