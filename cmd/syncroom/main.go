// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/syncroom/syncroom/lib/config"
	"github.com/syncroom/syncroom/lib/library"
	"github.com/syncroom/syncroom/lib/playerstate"
	"github.com/syncroom/syncroom/lib/version"
	"github.com/syncroom/syncroom/mediator"
	"github.com/syncroom/syncroom/protocol"
	"github.com/syncroom/syncroom/session"
	"github.com/syncroom/syncroom/transport"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// invocation is the parsed command line.
type invocation struct {
	command     string
	room        string
	configPath  string
	mediaDir    string
	mediatorURL string
	showVersion bool
}

func parseArgs(args []string) (invocation, error) {
	var inv invocation
	flagSet := pflag.NewFlagSet("syncroom", pflag.ContinueOnError)
	flagSet.StringVar(&inv.configPath, "config", "", "path to syncroom.yaml (default: $SYNCROOM_CONFIG, then built-in defaults)")
	flagSet.StringVar(&inv.mediaDir, "media-dir", "", "directory holding local tracks (overrides media.root)")
	flagSet.StringVar(&inv.mediatorURL, "mediator", "", "mediator websocket URL (overrides mediator.url)")
	flagSet.BoolVar(&inv.showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(io.Discard)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
		}
		return invocation{}, err
	}
	if inv.showVersion {
		return inv, nil
	}

	positional := flagSet.Args()
	if len(positional) == 0 {
		return invocation{}, fmt.Errorf("missing command: create or join <room-id>")
	}
	inv.command = positional[0]
	switch inv.command {
	case "create":
		if len(positional) != 1 {
			return invocation{}, fmt.Errorf("create takes no arguments")
		}
	case "join":
		if len(positional) != 2 {
			return invocation{}, fmt.Errorf("usage: syncroom join <room-id>")
		}
		inv.room = positional[1]
	default:
		return invocation{}, fmt.Errorf("unknown command %q (want create or join)", inv.command)
	}
	return inv, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `syncroom keeps music playback in step across peers.

Usage:
  syncroom [flags] create
  syncroom [flags] join <room-id>

After the room is entered, commands are read from standard input;
type "help" for the list.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func loadConfig(inv invocation) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case inv.configPath != "":
		cfg, err = config.LoadFile(inv.configPath)
	case os.Getenv("SYNCROOM_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if inv.mediaDir != "" {
		cfg.Media.Root = inv.mediaDir
	}
	if inv.mediatorURL != "" {
		cfg.Mediator.URL = inv.mediatorURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	inv, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if inv.showVersion {
		fmt.Fprintf(stdout, "syncroom %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(inv)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevels[cfg.LogLevel],
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, player, err := assemble(cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Leave()

	var room string
	switch inv.command {
	case "create":
		room, err = sess.CreateRoom(ctx)
	case "join":
		room, err = sess.JoinRoom(ctx, inv.room)
	}
	if err != nil {
		if errors.Is(err, protocol.ErrConnectionFailed) {
			logger.Error("mediator unreachable", "url", cfg.Mediator.URL, "error", err)
		}
		return fmt.Errorf("entering room: %w", err)
	}
	fmt.Fprintf(stdout, "room %s\n", room)
	logger.Info("room entered", "room", room, "role", sess.Role().String())

	console := newConsole(player, sess, stdout)
	go console.run(ctx, stdin)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-sess.Done():
		logger.Warn("session closed: mediator connection lost")
	}
	return nil
}

// assemble wires the mediator client, peer transports, and session over
// a fresh in-memory player.
func assemble(cfg *config.Config, logger *slog.Logger) (*session.Session, *playerstate.State, error) {
	router := protocol.NewRouter()
	client := mediator.New(mediator.ConfigFromFile(cfg.Mediator), func(signaler transport.Signaler) (protocol.Factory, error) {
		return transport.NewFactory(signaler, transport.OptionsFromConfig(cfg, router, logger))
	}, logger)

	directory := library.NewDirectory(cfg.Media.Root)
	spool := library.NewSpool(cfg.Media.Spool, directory, func(kind protocol.MediaKind, track protocol.Track, uri string) {
		logger.Info("media ready", "kind", string(kind), "track_id", track.ID, "title", track.Title, "uri", uri)
	}, logger)

	player := playerstate.New()
	sess, err := session.New(session.Config{
		Mediator:     client,
		Router:       router,
		Player:       player,
		Resolver:     directory,
		Sink:         spool,
		Logger:       logger,
		FetchTimeout: cfg.Session.FetchTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, player, nil
}
