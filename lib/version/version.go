// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the syncroom binary.
//
// Values are injected at build time:
//
//	go build -ldflags "-X github.com/syncroom/syncroom/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"

	"github.com/syncroom/syncroom/protocol"
)

var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// Version is the semantic version, set for releases.
	Version = "0.1.0-dev"
)

// Info returns the one-line string printed by --version, including the
// peer protocol revision so operators can spot version skew between
// peers in a room.
func Info() string {
	return fmt.Sprintf("%s (%s, protocol v%d, %s)", Version, GitCommit, protocol.Version, runtime.Version())
}
