// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package library

import (
	"bytes"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/syncroom/syncroom/protocol"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "t1.flac"), []byte("audio-1"))
	writeFile(t, filepath.Join(root, "t1.cover.png"), []byte("cover-1"))
	directory := NewDirectory(root)

	if !directory.HasAudio("t1") || !directory.HasCover("t1") {
		t.Fatal("t1 audio and cover not found")
	}
	if directory.HasAudio("t2") || directory.HasCover("t2") {
		t.Fatal("t2 unexpectedly found")
	}

	audio, err := directory.Audio("t1")
	if err != nil || string(audio) != "audio-1" {
		t.Errorf("Audio = %q, %v", audio, err)
	}
	cover, err := directory.Cover("t1")
	if err != nil || string(cover) != "cover-1" {
		t.Errorf("Cover = %q, %v", cover, err)
	}
	if _, err := directory.Audio("t2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Audio(t2) = %v, want ErrNotFound", err)
	}
}

func TestDirectoryRejectsEscapingIDs(t *testing.T) {
	directory := NewDirectory(t.TempDir())
	for _, id := range []string{"", ".", "..", "../etc/passwd", `a\b`} {
		if _, err := directory.Path(id, protocol.MediaAudio); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Path(%q) = %v, want invalid id error", id, err)
		}
	}
}

func TestSpoolWritesFetchedBytes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	var published []string
	spool := NewSpool(dir, nil, func(_ protocol.MediaKind, _ protocol.Track, uri string) {
		published = append(published, uri)
	}, nil)

	data := []byte("fetched audio")
	if err := spool.SetSource(protocol.Track{ID: "t1"}, data); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	uri := spool.Current(protocol.MediaAudio)
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "file" {
		t.Fatalf("URI %q is not a file URI", uri)
	}
	written, err := os.ReadFile(filepath.FromSlash(parsed.Path))
	if err != nil {
		t.Fatalf("reading spooled file: %v", err)
	}
	if !bytes.Equal(written, data) {
		t.Errorf("spooled %q, want %q", written, data)
	}
	if len(published) != 1 || published[0] != uri {
		t.Errorf("published = %v, want [%s]", published, uri)
	}

	// Identical bytes share a file.
	if err := spool.SetSource(protocol.Track{ID: "t1-copy"}, data); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if spool.Current(protocol.MediaAudio) != uri {
		t.Errorf("identical bytes spooled to %s, want %s", spool.Current(protocol.MediaAudio), uri)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("spool has %d files, want 1", len(entries))
	}
}

func TestSpoolPassThrough(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "t1.mp3"), []byte("local"))
	spool := NewSpool(t.TempDir(), NewDirectory(root), nil, nil)

	if err := spool.SetSource(protocol.Track{ID: "t1", Source: protocol.SourceLocal}, nil); err != nil {
		t.Fatalf("SetSource local: %v", err)
	}
	want := (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(root, "t1.mp3"))}).String()
	if got := spool.Current(protocol.MediaAudio); got != want {
		t.Errorf("local source = %s, want %s", got, want)
	}

	stream := protocol.Track{ID: "s1", Source: protocol.SourceStream, URL: "https://example.com/s1", CoverURL: "https://example.com/s1.jpg"}
	if err := spool.SetSource(stream, nil); err != nil {
		t.Fatalf("SetSource stream: %v", err)
	}
	if got := spool.Current(protocol.MediaAudio); got != stream.URL {
		t.Errorf("stream source = %s, want %s", got, stream.URL)
	}
	if err := spool.SetCover(stream, nil); err != nil {
		t.Fatalf("SetCover: %v", err)
	}
	if got := spool.Current(protocol.MediaCover); got != stream.CoverURL {
		t.Errorf("cover = %s, want %s", got, stream.CoverURL)
	}

	if err := spool.SetSource(protocol.Track{ID: "missing"}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSource(missing) = %v, want ErrNotFound", err)
	}
}
