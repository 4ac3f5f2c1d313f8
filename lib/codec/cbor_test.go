// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleEntry struct {
	TrackID string `json:"track_id"`
	PeerID  string `json:"peer_id,omitempty"`
}

type sampleQueue struct {
	Order []sampleEntry     `json:"order"`
	Index int               `json:"index"`
	Tags  map[string]string `json:"tags,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleQueue{
		Order: []sampleEntry{{TrackID: "t1", PeerID: "peer-a"}, {TrackID: "t2"}},
		Index: 1,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleQueue
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Index != 1 || len(decoded.Order) != 2 || decoded.Order[0] != original.Order[0] {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	first, err := Marshal(sampleQueue{Tags: map[string]string{"b": "2", "a": "1", "c": "3"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for attempt := 0; attempt < 10; attempt++ {
		again, err := Marshal(sampleQueue{Tags: map[string]string{"c": "3", "a": "1", "b": "2"}})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x != %x", first, again)
		}
	}
}

func TestRawMessageDefersDecoding(t *testing.T) {
	type envelope struct {
		Event string     `json:"event"`
		Data  RawMessage `json:"data"`
	}

	payload, err := Marshal(sampleEntry{TrackID: "t9"})
	if err != nil {
		t.Fatalf("Marshal payload: %v", err)
	}
	data, err := Marshal(envelope{Event: "queue", Data: payload})
	if err != nil {
		t.Fatalf("Marshal envelope: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal envelope: %v", err)
	}
	var entry sampleEntry
	if err := Unmarshal(decoded.Data, &entry); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if entry.TrackID != "t9" {
		t.Errorf("TrackID = %q, want t9", entry.TrackID)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"track_id": "t1", "added_in_v2": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var entry sampleEntry
	if err := Unmarshal(data, &entry); err != nil {
		t.Fatalf("Unmarshal rejected unknown field: %v", err)
	}
	if entry.TrackID != "t1" {
		t.Errorf("TrackID = %q, want t1", entry.TrackID)
	}
}
