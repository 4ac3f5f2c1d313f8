// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncroom/syncroom/lib/codec"
	"github.com/syncroom/syncroom/lib/testutil"
	"github.com/syncroom/syncroom/protocol"
)

func startMemoryPair(t *testing.T, routerA, routerB *protocol.Router) (*Memory, *Memory) {
	t.Helper()
	a, b := MemoryPair("peer-a", "peer-b", routerA, routerB)
	t.Cleanup(func() { a.Close() })
	for _, side := range []*Memory{a, b} {
		if err := side.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	return a, b
}

func TestMemory_SendAndNotify(t *testing.T) {
	seen := make(chan protocol.Event, 4)
	routerB := protocol.NewRouter()
	routerB.Handle(protocol.EventRequestMedia, func(_ context.Context, from string, data codec.RawMessage) (any, error) {
		var request protocol.MediaRequest
		if err := protocol.Decode(data, &request); err != nil {
			return nil, err
		}
		seen <- protocol.EventRequestMedia
		return protocol.MediaReply{Accepted: from == "peer-a" && request.TrackID == "t1"}, nil
	})
	routerB.Handle(protocol.EventReady, func(context.Context, string, codec.RawMessage) (any, error) {
		seen <- protocol.EventReady
		return "ignored", nil
	})

	a, _ := startMemoryPair(t, protocol.NewRouter(), routerB)
	ctx := context.Background()

	data, err := a.Send(ctx, protocol.EventRequestMedia, protocol.MediaRequest{TrackID: "t1", Kind: protocol.MediaAudio})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var reply protocol.MediaReply
	if err := protocol.Decode(data, &reply); err != nil || !reply.Accepted {
		t.Fatalf("reply = %+v, err = %v", reply, err)
	}

	// A notify's response arrives with an id nobody waits for.
	if err := a.Notify(ctx, protocol.EventReady, protocol.ReadySignal{TrackID: "t1"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	testutil.RequireReceive(t, seen, time.Second, "request_media")
	if event := testutil.RequireReceive(t, seen, time.Second, "ready"); event != protocol.EventReady {
		t.Errorf("event = %s, want ready", event)
	}
}

func TestMemory_Stream(t *testing.T) {
	received := make(chan protocol.Media, 1)
	routerB := protocol.NewRouter()
	routerB.HandleStream(func(from string, media protocol.Media) {
		if from == "peer-a" {
			received <- media
		}
	})

	a, _ := startMemoryPair(t, protocol.NewRouter(), routerB)

	data := []byte("audio bytes")
	if err := a.Stream(context.Background(), protocol.Media{TrackID: "t1", Kind: protocol.MediaAudio, Data: data}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	data[0] = 'X'

	media := testutil.RequireReceive(t, received, time.Second, "stream")
	if string(media.Data) != "audio bytes" {
		t.Errorf("media.Data = %q; the stream must not alias the sender's buffer", media.Data)
	}
}

func TestMemory_CloseRejectsPendingOnBothSides(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	routerB := protocol.NewRouter()
	routerB.Handle(protocol.EventRequestQueue, func(context.Context, string, codec.RawMessage) (any, error) {
		<-release
		return nil, nil
	})

	a, b := startMemoryPair(t, protocol.NewRouter(), routerB)

	result := make(chan error, 1)
	go func() {
		_, err := a.Send(context.Background(), protocol.EventRequestQueue, nil)
		result <- err
	}()
	time.Sleep(20 * time.Millisecond)
	b.Close()

	if err := testutil.RequireReceive(t, result, time.Second, "Send not released"); !errors.Is(err, protocol.ErrTransportClosed) {
		t.Errorf("Send error = %v, want ErrTransportClosed", err)
	}
	testutil.RequireClosed(t, a.Done(), time.Second, "a not closed")
	if a.State() != protocol.StateClosed || b.State() != protocol.StateClosed {
		t.Errorf("states = %s/%s, want closed/closed", a.State(), b.State())
	}
	if err := a.Notify(context.Background(), protocol.EventSeek, nil); !errors.Is(err, protocol.ErrChannelClosed) {
		t.Errorf("Notify after close = %v, want ErrChannelClosed", err)
	}
	if err := a.Start(context.Background()); !errors.Is(err, protocol.ErrNegotiationFailed) {
		t.Errorf("Start after close = %v, want ErrNegotiationFailed", err)
	}
}

func TestMemory_WriteBeforeStart(t *testing.T) {
	a, _ := MemoryPair("peer-a", "peer-b", protocol.NewRouter(), protocol.NewRouter())
	defer a.Close()
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// b has not started, so there is no open channel yet.
	if err := a.Notify(context.Background(), protocol.EventSeek, nil); !errors.Is(err, protocol.ErrChannelClosed) {
		t.Errorf("Notify = %v, want ErrChannelClosed", err)
	}
}
