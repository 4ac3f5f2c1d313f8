// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads syncroom configuration.
//
// Configuration is read from exactly one file, named by the
// SYNCROOM_CONFIG environment variable ([Load]) or a --config flag
// ([LoadFile]). There is no search path and no per-field environment
// override. The file is YAML; files ending in .json or .jsonc are
// accepted too, with comments stripped before parsing.
//
// A file may carry development and production sections that override
// base values when [Config].Environment matches. Production without an
// explicit section drops loopback ICE candidates and raises the log
// level to info.
//
// ${HOME}, ${SYNCROOM_ROOT}, and ${VAR:-default} are expanded in the
// media directory fields after loading.
//
// This package depends on no other syncroom packages.
package config
