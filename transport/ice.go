// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/syncroom/syncroom/lib/config"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer

	// IncludeLoopback gathers 127.0.0.1 host candidates, needed when
	// both peers run on one machine.
	IncludeLoopback bool
}

// ICEConfigFromConfig converts the ice section of the configuration file
// into pion ICE server entries. Entries without URLs are skipped; an
// empty list yields host candidates only, sufficient for same-machine
// and same-LAN rooms.
func ICEConfigFromConfig(ice config.ICEConfig) ICEConfig {
	result := ICEConfig{IncludeLoopback: ice.IncludeLoopback}
	for _, server := range ice.Servers {
		if len(server.URLs) == 0 {
			continue
		}
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		result.Servers = append(result.Servers, entry)
	}
	return result
}
