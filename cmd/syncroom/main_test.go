// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    invocation
		wantErr string
	}{
		{
			name: "create",
			args: []string{"create"},
			want: invocation{command: "create"},
		},
		{
			name: "join with overrides",
			args: []string{"--mediator", "ws://example.com/ws", "--media-dir", "/music", "join", "room-1"},
			want: invocation{command: "join", room: "room-1", mediatorURL: "ws://example.com/ws", mediaDir: "/music"},
		},
		{
			name: "version needs no command",
			args: []string{"--version"},
			want: invocation{showVersion: true},
		},
		{name: "no command", args: nil, wantErr: "missing command"},
		{name: "join without room", args: []string{"join"}, wantErr: "usage"},
		{name: "create with argument", args: []string{"create", "x"}, wantErr: "no arguments"},
		{name: "unknown command", args: []string{"dance"}, wantErr: "unknown command"},
		{name: "unknown flag", args: []string{"--loud", "create"}, wantErr: "unknown flag"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseArgs(test.args)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("parseArgs(%q) error = %v, want %q", test.args, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs(%q): %v", test.args, err)
			}
			if got != test.want {
				t.Errorf("parseArgs(%q) = %+v, want %+v", test.args, got, test.want)
			}
		})
	}
}

func TestParseArgsHelp(t *testing.T) {
	if _, err := parseArgs([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("--help error = %v, want ErrHelp", err)
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--version"}, strings.NewReader(""), &out); err != nil {
		t.Fatalf("run --version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "syncroom ") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncroom.yaml")
	contents := "mediator:\n  url: ws://file.example/ws\nmedia:\n  root: /from/file\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(invocation{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Mediator.URL != "ws://file.example/ws" || cfg.Media.Root != "/from/file" {
		t.Errorf("file values not applied: %+v %+v", cfg.Mediator, cfg.Media)
	}

	cfg, err = loadConfig(invocation{configPath: path, mediatorURL: "wss://flag.example/ws", mediaDir: "/from/flag"})
	if err != nil {
		t.Fatalf("loadConfig with flags: %v", err)
	}
	if cfg.Mediator.URL != "wss://flag.example/ws" || cfg.Media.Root != "/from/flag" {
		t.Errorf("flags not applied: %+v %+v", cfg.Mediator, cfg.Media)
	}

	if _, err := loadConfig(invocation{configPath: path, mediatorURL: "http://wrong.example"}); err == nil {
		t.Error("loadConfig accepted an http mediator URL")
	}
}

func TestAssembleWiresSession(t *testing.T) {
	t.Setenv("SYNCROOM_CONFIG", "")
	cfg, err := loadConfig(invocation{mediaDir: t.TempDir()})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Media.Spool = t.TempDir()

	sess, player, err := assemble(cfg, discardLogger())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer sess.Leave()
	if player == nil {
		t.Fatal("assemble returned no player")
	}
	if state := sess.State().String(); state != "uninitialized" {
		t.Errorf("session state = %s, want uninitialized", state)
	}
}
