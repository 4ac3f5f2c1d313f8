// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/syncroom/syncroom/lib/config"
)

func TestICEConfigFromConfig_Empty(t *testing.T) {
	ice := ICEConfigFromConfig(config.ICEConfig{})
	if len(ice.Servers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(ice.Servers))
	}
	if ice.IncludeLoopback {
		t.Error("include_loopback should default to false")
	}
}

func TestICEConfigFromConfig_SkipsEntriesWithoutURLs(t *testing.T) {
	ice := ICEConfigFromConfig(config.ICEConfig{
		Servers: []config.ICEServer{
			{Username: "orphan"},
			{URLs: config.DefaultSTUNServers},
		},
		IncludeLoopback: true,
	})
	if len(ice.Servers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(ice.Servers))
	}
	if len(ice.Servers[0].URLs) != len(config.DefaultSTUNServers) {
		t.Errorf("expected %d STUN URLs, got %d", len(config.DefaultSTUNServers), len(ice.Servers[0].URLs))
	}
	if !ice.IncludeLoopback {
		t.Error("include_loopback not carried over")
	}
}

func TestICEConfigFromConfig_WithCredentials(t *testing.T) {
	ice := ICEConfigFromConfig(config.ICEConfig{
		Servers: []config.ICEServer{{
			URLs:       []string{"turn:turn.example.com:3478?transport=udp", "turn:turn.example.com:3478?transport=tcp"},
			Username:   "1234:user",
			Credential: "secret",
		}},
	})
	if len(ice.Servers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(ice.Servers))
	}
	server := ice.Servers[0]
	if len(server.URLs) != 2 {
		t.Errorf("expected 2 URLs, got %d", len(server.URLs))
	}
	if server.Username != "1234:user" {
		t.Errorf("username = %q, want %q", server.Username, "1234:user")
	}
	if server.Credential != "secret" {
		t.Errorf("credential = %v, want %q", server.Credential, "secret")
	}
}
