// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/syncroom/syncroom/lib/playerstate"
	"github.com/syncroom/syncroom/protocol"
)

// host is the session the console drives. *session.Session satisfies
// it.
type host interface {
	LocalID() string

	// Update runs a player mutation serialized with remote applies.
	Update(fn func())
}

// console turns lines of text into player mutations. The session
// observes the player and broadcasts each one.
type console struct {
	player *playerstate.State
	self   host
	out    io.Writer
}

func newConsole(player *playerstate.State, self host, out io.Writer) *console {
	return &console{player: player, self: self, out: out}
}

const consoleHelp = `commands:
  add <track-id> [title]   queue a local track this peer supplies
  stream <track-id> <url>  queue a track every peer plays from url
  play | pause | stop      set the playback state
  seek <duration>          jump to a position, e.g. 1m30s
  next | prev | goto <n>   move the current index
  repeat on|off            toggle repeat
  queue                    print the queue
  help                     print this list
`

// run reads commands until in ends or ctx is cancelled.
func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := c.execute(scanner.Text()); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *console) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	var err error
	c.self.Update(func() { err = c.dispatch(fields[0], fields[1:]) })
	return err
}

func (c *console) dispatch(command string, args []string) error {
	switch command {
	case "help":
		fmt.Fprint(c.out, consoleHelp)
	case "add":
		if len(args) == 0 {
			return fmt.Errorf("usage: add <track-id> [title]")
		}
		track := protocol.Track{
			ID:        args[0],
			Title:     strings.Join(args[1:], " "),
			Source:    protocol.SourceLocal,
			OfferedBy: c.self.LocalID(),
		}
		c.player.Enqueue(track, c.self.LocalID())
	case "stream":
		if len(args) != 2 {
			return fmt.Errorf("usage: stream <track-id> <url>")
		}
		track := protocol.Track{
			ID:        args[0],
			Source:    protocol.SourceStream,
			URL:       args[1],
			OfferedBy: c.self.LocalID(),
		}
		c.player.Enqueue(track, c.self.LocalID())
	case "play":
		c.player.SetPlayback(protocol.PlaybackPlaying)
	case "pause":
		c.player.SetPlayback(protocol.PlaybackPaused)
	case "stop":
		c.player.SetPlayback(protocol.PlaybackStopped)
	case "seek":
		if len(args) != 1 {
			return fmt.Errorf("usage: seek <duration>")
		}
		position, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("parsing position: %w", err)
		}
		if position < 0 {
			return fmt.Errorf("position must not be negative")
		}
		c.player.Seek(position)
	case "next", "prev":
		snapshot := c.player.Snapshot()
		step := 1
		if command == "prev" {
			step = -1
		}
		return c.moveTo(snapshot, snapshot.Queue.Index+step)
	case "goto":
		if len(args) != 1 {
			return fmt.Errorf("usage: goto <n>")
		}
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("parsing index: %w", err)
		}
		return c.moveTo(c.player.Snapshot(), index)
	case "repeat":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: repeat on|off")
		}
		c.player.SetRepeat(args[0] == "on")
	case "queue":
		c.printQueue(c.player.Snapshot())
	default:
		return fmt.Errorf("unknown command %q (try help)", command)
	}
	return nil
}

// moveTo sets the current index. With repeat on, moving past either end
// wraps around.
func (c *console) moveTo(snapshot playerstate.Snapshot, index int) error {
	length := len(snapshot.Queue.Order)
	if length == 0 {
		return fmt.Errorf("queue is empty")
	}
	if snapshot.Repeat {
		index = ((index % length) + length) % length
	}
	if index < 0 || index >= length {
		return fmt.Errorf("index %d out of range [0, %d)", index, length)
	}
	c.player.SetIndex(index)
	return nil
}

func (c *console) printQueue(snapshot playerstate.Snapshot) {
	if len(snapshot.Queue.Order) == 0 {
		fmt.Fprintln(c.out, "queue is empty")
		return
	}
	for index, entry := range snapshot.Queue.Order {
		marker := " "
		if index == snapshot.Queue.Index {
			marker = ">"
		}
		title := entry.TrackID
		if track, ok := snapshot.Queue.Data[entry.TrackID]; ok && track.Title != "" {
			title = track.Title
		}
		fmt.Fprintf(c.out, "%s %d. %s (from %s)\n", marker, index, title, entry.PeerID)
	}
	fmt.Fprintf(c.out, "playback %s at %s, repeat %t, loading %t\n",
		snapshot.Playback, snapshot.Position, snapshot.Repeat, snapshot.Loading)
}
