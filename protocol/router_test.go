// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/syncroom/syncroom/lib/codec"
)

func TestRouterDispatch(t *testing.T) {
	router := NewRouter()
	router.Handle(EventRequestQueue, func(_ context.Context, from string, _ codec.RawMessage) (any, error) {
		return QueueState{
			Queue:  QueueUpdate{Order: []QueueEntry{{TrackID: "t1", PeerID: from}}},
			Repeat: true,
		}, nil
	})

	request, err := NewRequest(EventRequestQueue, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	response, ok := router.Dispatch(context.Background(), "peer-a", request)
	if !ok {
		t.Fatal("Dispatch returned no response for a registered event")
	}
	if response.ID != request.ID || response.Type != KindResponse {
		t.Fatalf("response = %+v", response)
	}

	var state QueueState
	if err := Decode(response.Data, &state); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !state.Repeat || len(state.Queue.Order) != 1 || state.Queue.Order[0].PeerID != "peer-a" {
		t.Errorf("state = %+v", state)
	}
}

func TestRouterDropsUnregisteredEvents(t *testing.T) {
	router := NewRouter()
	request, _ := NewRequest(Event("shuffle"), nil)
	if response, ok := router.Dispatch(context.Background(), "peer-a", request); ok {
		t.Errorf("unregistered event produced response %+v", response)
	}
}

func TestRouterIgnoresResponses(t *testing.T) {
	router := NewRouter()
	called := false
	router.Handle(EventQueue, func(context.Context, string, codec.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	request, _ := NewRequest(EventQueue, nil)
	response, _ := request.Reply(nil)
	if _, ok := router.Dispatch(context.Background(), "peer-a", response); ok {
		t.Error("Dispatch answered a RESPONSE")
	}
	if called {
		t.Error("handler invoked for a RESPONSE")
	}
}

func TestRouterHandlerError(t *testing.T) {
	router := NewRouter()
	router.Handle(EventRequestMedia, func(context.Context, string, codec.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	})

	request, _ := NewRequest(EventRequestMedia, MediaRequest{TrackID: "t1", Kind: MediaAudio})
	response, ok := router.Dispatch(context.Background(), "peer-a", request)
	if !ok {
		t.Fatal("handler error should still produce a response")
	}
	if response.Error != "disk on fire" {
		t.Errorf("response.Error = %q", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("error response carries data %x", response.Data)
	}
}

func TestRouterDispatchStream(t *testing.T) {
	router := NewRouter()
	if router.DispatchStream("peer-a", Media{TrackID: "t1"}) {
		t.Fatal("DispatchStream reported delivery with no handler")
	}

	var got Media
	var gotFrom string
	router.HandleStream(func(from string, media Media) {
		gotFrom = from
		got = media
	})
	if !router.DispatchStream("peer-a", Media{TrackID: "t1", Kind: MediaCover, Data: []byte("png")}) {
		t.Fatal("DispatchStream reported no delivery")
	}
	if gotFrom != "peer-a" || got.TrackID != "t1" || got.Kind != MediaCover || string(got.Data) != "png" {
		t.Errorf("stream handler got %s %+v", gotFrom, got)
	}
}

func TestRouterRunsNotificationWithoutResponse(t *testing.T) {
	router := NewRouter()
	var got RepeatUpdate
	router.Handle(EventRepeat, func(_ context.Context, _ string, data codec.RawMessage) (any, error) {
		if err := Decode(data, &got); err != nil {
			return nil, err
		}
		return RepeatUpdate{Repeat: false}, nil
	})

	notification, err := NewNotification(EventRepeat, RepeatUpdate{Repeat: true})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	if response, ok := router.Dispatch(context.Background(), "peer-a", notification); ok {
		t.Errorf("notification produced response %+v", response)
	}
	if !got.Repeat {
		t.Error("handler did not run for the notification")
	}
}
