// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package playerstate

import (
	"slices"
	"testing"
	"time"

	"github.com/syncroom/syncroom/protocol"
)

func record(s *State) *[]Change {
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })
	return &changes
}

func TestSetQueueNotifications(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  []Change
	}{
		{"index unchanged", 0, []Change{ChangeQueue}},
		{"index moved", 1, []Change{ChangeQueue, ChangeIndex}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := New()
			changes := record(s)
			s.SetQueue(protocol.QueueUpdate{
				Order: []protocol.QueueEntry{{TrackID: "t1"}, {TrackID: "t2"}},
				Index: test.index,
			})
			if !slices.Equal(*changes, test.want) {
				t.Errorf("changes = %v, want %v", *changes, test.want)
			}
		})
	}
}

func TestValueSettersNotifyOnlyOnChange(t *testing.T) {
	s := New()
	changes := record(s)

	s.SetRepeat(false)
	s.SetRepeat(true)
	s.SetRepeat(true)
	s.SetPlayback(protocol.PlaybackStopped)
	s.SetPlayback(protocol.PlaybackPlaying)
	s.SetIndex(0)
	s.Seek(0)
	s.Seek(0)

	want := []Change{ChangeRepeat, ChangePlayback, ChangeSeek, ChangeSeek}
	if !slices.Equal(*changes, want) {
		t.Errorf("changes = %v, want %v", *changes, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Enqueue(protocol.Track{ID: "t1", Title: "One"}, "peer-a")

	snapshot := s.Snapshot()
	snapshot.Queue.Order[0].TrackID = "mutated"
	snapshot.Queue.Data["t1"] = protocol.Track{ID: "mutated"}

	again := s.Snapshot()
	if again.Queue.Order[0].TrackID != "t1" {
		t.Errorf("order aliased: %v", again.Queue.Order)
	}
	if again.Queue.Data["t1"].Title != "One" {
		t.Errorf("data aliased: %v", again.Queue.Data)
	}
}

func TestSnapshotCurrent(t *testing.T) {
	s := New()
	if _, _, ok := s.Snapshot().Current(); ok {
		t.Fatal("empty queue has a current track")
	}

	s.Enqueue(protocol.Track{ID: "t1", Source: protocol.SourceStream}, "peer-a")
	entry, track, ok := s.Snapshot().Current()
	if !ok || entry.PeerID != "peer-a" || track.Source != protocol.SourceStream {
		t.Errorf("Current = %+v %+v %v", entry, track, ok)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	var calls int
	cancel := s.Subscribe(func(Change) { calls++ })
	s.Seek(time.Second)
	cancel()
	s.Seek(2 * time.Second)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestObserverMayReadState(t *testing.T) {
	s := New()
	var seen time.Duration
	s.Subscribe(func(Change) { seen = s.Snapshot().Position })
	s.Seek(3 * time.Second)
	if seen != 3*time.Second {
		t.Errorf("observer saw position %v, want 3s", seen)
	}
}
