// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"log/slog"
	"time"

	"github.com/syncroom/syncroom/lib/clock"
	"github.com/syncroom/syncroom/lib/config"
	"github.com/syncroom/syncroom/protocol"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultChunkSize          = 16 * 1024
	DefaultMaxMediaBytes      = 256 << 20
)

// Options configures the transports built by [New] and [NewFactory].
type Options struct {
	// Router answers requests from the peer and receives its media
	// streams. Usually one Router is shared by every transport of a
	// process.
	Router *protocol.Router

	ICE ICEConfig

	// Clock drives the negotiation timeout. Defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger

	// NegotiationTimeout bounds Start and Initiate.
	NegotiationTimeout time.Duration

	// ChunkSize is the payload size of one media stream chunk.
	ChunkSize int

	// MaxMediaBytes caps one inbound media stream as sent.
	MaxMediaBytes int64

	// CompressMedia zstd-compresses outbound media streams.
	CompressMedia bool
}

// OptionsFromConfig builds Options from the transport and ice sections
// of the configuration file.
func OptionsFromConfig(cfg *config.Config, router *protocol.Router, logger *slog.Logger) Options {
	return Options{
		Router:             router,
		ICE:                ICEConfigFromConfig(cfg.ICE),
		Logger:             logger,
		NegotiationTimeout: cfg.Transport.NegotiationTimeout,
		ChunkSize:          cfg.Transport.ChunkSize,
		MaxMediaBytes:      cfg.Transport.MaxMediaBytes,
		CompressMedia:      cfg.Transport.CompressMedia,
	}
}

func (o *Options) applyDefaults() {
	if o.Router == nil {
		o.Router = protocol.NewRouter()
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.NegotiationTimeout <= 0 {
		o.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxMediaBytes <= 0 {
		o.MaxMediaBytes = DefaultMaxMediaBytes
	}
}
