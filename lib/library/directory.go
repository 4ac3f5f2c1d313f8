// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/syncroom/syncroom/protocol"
)

// ErrNotFound is returned when a track has no file of the requested
// kind.
var ErrNotFound = errors.New("media not found")

// Extensions tried, in order, when looking a track up.
var (
	AudioExtensions = []string{".mp3", ".flac", ".ogg", ".opus", ".m4a", ".wav"}
	CoverExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}
)

// Directory resolves tracks to files in one directory: audio at
// <root>/<track_id><ext> and cover art at <root>/<track_id>.cover<ext>.
type Directory struct {
	root string
}

// NewDirectory returns a resolver over root. The directory need not
// exist; a missing directory resolves nothing.
func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

// Root is the directory searched.
func (d *Directory) Root() string { return d.root }

// Path returns the file holding kind for trackID.
func (d *Directory) Path(trackID string, kind protocol.MediaKind) (string, error) {
	if err := validTrackID(trackID); err != nil {
		return "", err
	}
	base, extensions := trackID, AudioExtensions
	if kind == protocol.MediaCover {
		base, extensions = trackID+".cover", CoverExtensions
	}
	for _, extension := range extensions {
		path := filepath.Join(d.root, base+extension)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s %s in %s: %w", kind, trackID, d.root, ErrNotFound)
}

func (d *Directory) HasAudio(trackID string) bool {
	_, err := d.Path(trackID, protocol.MediaAudio)
	return err == nil
}

func (d *Directory) HasCover(trackID string) bool {
	_, err := d.Path(trackID, protocol.MediaCover)
	return err == nil
}

func (d *Directory) Audio(trackID string) ([]byte, error) {
	return d.read(trackID, protocol.MediaAudio)
}

func (d *Directory) Cover(trackID string) ([]byte, error) {
	return d.read(trackID, protocol.MediaCover)
}

func (d *Directory) read(trackID string, kind protocol.MediaKind) ([]byte, error) {
	path, err := d.Path(trackID, kind)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// validTrackID rejects ids that would escape the directory.
func validTrackID(trackID string) error {
	if trackID == "" || trackID == "." || trackID == ".." ||
		strings.ContainsAny(trackID, `/\`) || strings.ContainsRune(trackID, 0) {
		return fmt.Errorf("invalid track id %q", trackID)
	}
	return nil
}
