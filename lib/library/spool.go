// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package library

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/syncroom/syncroom/protocol"
)

// PublishFunc hands a playable URI to the playback element.
type PublishFunc func(kind protocol.MediaKind, track protocol.Track, uri string)

// Spool is a media sink. Bytes fetched from peers are written under the
// spool directory, named by their blake3 digest; local files and
// streamed URLs are passed through. Every resolved URI is published.
type Spool struct {
	dir     string
	local   *Directory
	publish PublishFunc
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	current map[protocol.MediaKind]string
}

// NewSpool returns a sink writing under dir. local, when non-nil,
// resolves media the process already has. publish may be nil.
func NewSpool(dir string, local *Directory, publish PublishFunc, logger *slog.Logger) *Spool {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Spool{
		dir:     dir,
		local:   local,
		publish: publish,
		logger:  logger,
		current: make(map[protocol.MediaKind]string),
	}
}

// SetSource makes track the playback source. data holds fetched bytes,
// or is nil when the audio is local or streamed.
func (s *Spool) SetSource(track protocol.Track, data []byte) error {
	uri, err := s.resolve(track, protocol.MediaAudio, data)
	if err != nil {
		return err
	}
	s.set(protocol.MediaAudio, track, uri)
	return nil
}

// SetCover makes track's cover art current. data holds fetched bytes,
// or is nil when the cover is local or has a URL.
func (s *Spool) SetCover(track protocol.Track, data []byte) error {
	uri, err := s.resolve(track, protocol.MediaCover, data)
	if err != nil {
		return err
	}
	s.set(protocol.MediaCover, track, uri)
	return nil
}

// Current returns the last URI set for kind.
func (s *Spool) Current(kind protocol.MediaKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[kind]
}

func (s *Spool) set(kind protocol.MediaKind, track protocol.Track, uri string) {
	s.mu.Lock()
	s.current[kind] = uri
	s.mu.Unlock()

	s.logger.Info("media source set", "kind", string(kind), "track_id", track.ID, "uri", uri)
	if s.publish != nil {
		s.publish(kind, track, uri)
	}
}

func (s *Spool) resolve(track protocol.Track, kind protocol.MediaKind, data []byte) (string, error) {
	if data != nil {
		path, err := s.write(kind, data)
		if err != nil {
			return "", err
		}
		return fileURI(path), nil
	}
	if s.local != nil {
		if path, err := s.local.Path(track.ID, kind); err == nil {
			return fileURI(path), nil
		}
	}
	if kind == protocol.MediaAudio && track.Source == protocol.SourceStream && track.URL != "" {
		return track.URL, nil
	}
	if kind == protocol.MediaCover && track.CoverURL != "" {
		return track.CoverURL, nil
	}
	return "", fmt.Errorf("%s for track %s: %w", kind, track.ID, ErrNotFound)
}

// write stores data atomically via temp file + rename. Identical bytes
// share one file.
func (s *Spool) write(kind protocol.MediaKind, data []byte) (string, error) {
	digest := blake3.Sum256(data)
	finalPath := filepath.Join(s.dir, hex.EncodeToString(digest[:])+"."+string(kind))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := os.Stat(finalPath); err == nil {
		return finalPath, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating spool directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "spool-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp spool file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("writing spool data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temp spool file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming spool file: %w", err)
	}

	success = true
	return finalPath, nil
}

func fileURI(path string) string {
	if absolute, err := filepath.Abs(path); err == nil {
		path = absolute
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
