// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/syncroom/syncroom/lib/testutil"
)

func TestMemorySignaler_BuffersUntilSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	alpha := hub.Endpoint("peer-alpha")
	beta := hub.Endpoint("peer-beta")
	ctx := context.Background()

	// Signals sent before beta subscribes are held in order.
	for _, kind := range []SignalKind{SignalOffer, SignalCandidate, SignalCandidate} {
		if err := alpha.Relay(ctx, "peer-beta", Signal{Kind: kind, Payload: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Relay %s: %v", kind, err)
		}
	}

	signals, cancel := beta.Subscribe("peer-alpha")
	defer cancel()
	for index, want := range []SignalKind{SignalOffer, SignalCandidate, SignalCandidate} {
		got := testutil.RequireReceive(t, signals, time.Second, "signal %d", index)
		if got.Kind != want {
			t.Errorf("signal %d kind = %s, want %s", index, got.Kind, want)
		}
	}
}

func TestMemorySignaler_IndependentMailboxes(t *testing.T) {
	hub := NewMemoryHub()
	alpha := hub.Endpoint("peer-alpha")
	gamma := hub.Endpoint("peer-gamma")
	beta := hub.Endpoint("peer-beta")
	ctx := context.Background()

	if err := alpha.Relay(ctx, "peer-beta", Signal{Kind: SignalOffer}); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	fromGamma, cancel := beta.Subscribe(gamma.LocalID())
	defer cancel()
	select {
	case signal := <-fromGamma:
		t.Fatalf("gamma's mailbox received %s sent by alpha", signal.Kind)
	default:
	}

	fromAlpha, cancelAlpha := beta.Subscribe("peer-alpha")
	defer cancelAlpha()
	testutil.RequireReceive(t, fromAlpha, time.Second, "alpha's offer")
}

func TestMemorySignaler_Errors(t *testing.T) {
	hub := NewMemoryHub()
	alpha := hub.Endpoint("peer-alpha")

	if err := alpha.Relay(context.Background(), "peer-nobody", Signal{Kind: SignalOffer}); err == nil {
		t.Error("relaying to an unknown peer should fail")
	}

	alpha.Close()
	testutil.RequireClosed(t, alpha.Done(), time.Second, "Done not closed")
	hub.Endpoint("peer-beta")
	if err := alpha.Relay(context.Background(), "peer-beta", Signal{Kind: SignalOffer}); err == nil {
		t.Error("relaying on a closed endpoint should fail")
	}
}
