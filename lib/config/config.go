// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete syncroom configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Mediator  MediatorConfig  `yaml:"mediator"`
	ICE       ICEConfig       `yaml:"ice"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Media     MediaConfig     `yaml:"media"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
type Overrides struct {
	LogLevel string          `yaml:"log_level,omitempty"`
	Mediator *MediatorConfig `yaml:"mediator,omitempty"`
	ICE      *ICEConfig      `yaml:"ice,omitempty"`
}

// MediatorConfig configures the signaling mediator connection.
type MediatorConfig struct {
	// URL is the websocket endpoint of the mediator, ws:// or wss://.
	URL string `yaml:"url"`

	// ConnectRetries is how many times a failed dial is retried before
	// Initialize gives up. Default: 2 (three dials in total).
	ConnectRetries int `yaml:"connect_retries"`

	// DialTimeout bounds each individual dial. Default: 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ICEConfig lists the STUN/TURN helpers used for NAT traversal.
type ICEConfig struct {
	Servers []ICEServer `yaml:"servers"`

	// IncludeLoopback gathers 127.0.0.1 host candidates. Needed when
	// every peer runs on one machine (development, tests).
	IncludeLoopback bool `yaml:"include_loopback"`
}

// ICEServer is one STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// TransportConfig tunes the peer transport.
type TransportConfig struct {
	// NegotiationTimeout bounds how long Start/Initiate wait for the
	// peer connection and data channels. Default: 30s.
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`

	// ChunkSize is the payload size of one media stream chunk.
	// Default: 16384. Must stay below the SCTP message limit.
	ChunkSize int `yaml:"chunk_size"`

	// MaxMediaBytes caps one reassembled media stream. Default: 256 MiB.
	MaxMediaBytes int64 `yaml:"max_media_bytes"`

	// CompressMedia zstd-compresses media streams before chunking.
	CompressMedia bool `yaml:"compress_media"`
}

// SessionConfig tunes the synchronization session.
type SessionConfig struct {
	// FetchTimeout releases the single media fetch slot when a supplier
	// accepted a request but never delivered the stream. Default: 2m.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// MediaConfig locates local media for the syncroom binary.
type MediaConfig struct {
	// Root is the directory searched for <track_id>.<ext> audio files
	// and <track_id>.cover.<ext> cover art.
	Root string `yaml:"root"`

	// Spool is where media received from peers is written.
	Spool string `yaml:"spool"`
}

// DefaultSTUNServers are the public STUN helpers used when a config does
// not list its own.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
	"stun:stun.stunprotocol.org:3478",
}

// Default returns the base configuration a file is merged over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "syncroom")

	return &Config{
		Environment: Development,
		LogLevel:    "debug",
		Mediator: MediatorConfig{
			URL:            "ws://localhost:4000/ws",
			ConnectRetries: 2,
			DialTimeout:    10 * time.Second,
		},
		ICE: ICEConfig{
			Servers:         []ICEServer{{URLs: DefaultSTUNServers}},
			IncludeLoopback: true,
		},
		Transport: TransportConfig{
			NegotiationTimeout: 30 * time.Second,
			ChunkSize:          16 * 1024,
			MaxMediaBytes:      256 << 20,
		},
		Session: SessionConfig{
			FetchTimeout: 2 * time.Minute,
		},
		Media: MediaConfig{
			Root:  filepath.Join(homeDir, "Music"),
			Spool: filepath.Join(root, "spool"),
		},
	}
}

// Load loads configuration from the file named by SYNCROOM_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("SYNCROOM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SYNCROOM_CONFIG environment variable not set; " +
			"set it to the path of your syncroom.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the environment
// section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// JSON is a subset of YAML; only the comments need stripping.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			c.ICE.IncludeLoopback = false
			overrides = &Overrides{LogLevel: "info"}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.Mediator != nil {
		if overrides.Mediator.URL != "" {
			c.Mediator.URL = overrides.Mediator.URL
		}
		if overrides.Mediator.ConnectRetries != 0 {
			c.Mediator.ConnectRetries = overrides.Mediator.ConnectRetries
		}
		if overrides.Mediator.DialTimeout != 0 {
			c.Mediator.DialTimeout = overrides.Mediator.DialTimeout
		}
	}
	if overrides.ICE != nil {
		if len(overrides.ICE.Servers) > 0 {
			c.ICE.Servers = overrides.ICE.Servers
		}
		// IncludeLoopback is a bool, so the section always decides it.
		c.ICE.IncludeLoopback = overrides.ICE.IncludeLoopback
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":          os.Getenv("HOME"),
		"SYNCROOM_ROOT": filepath.Dir(c.Media.Spool),
	}
	c.Media.Root = expandVars(c.Media.Root, vars)
	c.Media.Spool = expandVars(c.Media.Spool, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, consulting
// vars before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	if c.Mediator.URL == "" {
		errs = append(errs, fmt.Errorf("mediator.url is required"))
	} else if parsed, err := url.Parse(c.Mediator.URL); err != nil {
		errs = append(errs, fmt.Errorf("mediator.url: %w", err))
	} else if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("mediator.url must use ws or wss (got %q)", parsed.Scheme))
	}
	if c.Mediator.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("mediator.connect_retries must not be negative"))
	}
	if c.Mediator.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("mediator.dial_timeout must be positive"))
	}

	for index, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d].urls is required", index))
		}
	}

	if c.Transport.NegotiationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.negotiation_timeout must be positive"))
	}
	// pion's SCTP layer rejects messages above 64 KiB; leave room for
	// the chunk framing.
	if c.Transport.ChunkSize < 1024 || c.Transport.ChunkSize > 60*1024 {
		errs = append(errs, fmt.Errorf("transport.chunk_size must be between 1024 and 61440 (got %d)", c.Transport.ChunkSize))
	}
	if c.Transport.MaxMediaBytes <= 0 {
		errs = append(errs, fmt.Errorf("transport.max_media_bytes must be positive"))
	}

	if c.Session.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.fetch_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the spool directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if c.Media.Spool == "" {
		return nil
	}
	if err := os.MkdirAll(c.Media.Spool, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Media.Spool, err)
	}
	return nil
}
