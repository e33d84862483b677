// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/warren/cmd/warren/cli"
)

func TestRoot_TreeIsWellFormed(t *testing.T) {
	t.Parallel()

	var walk func(command *cli.Command, path string, siblings map[string]bool)
	walk = func(command *cli.Command, path string, siblings map[string]bool) {
		if command.Name == "" {
			t.Errorf("command under %q has no name", path)
			return
		}
		if siblings[command.Name] {
			t.Errorf("duplicate command name %q under %q", command.Name, path)
		}
		siblings[command.Name] = true

		full := strings.TrimSpace(path + " " + command.Name)
		if command.Summary == "" && path != "" {
			t.Errorf("%s has no summary", full)
		}
		if command.Run == nil && len(command.Subcommands) == 0 {
			t.Errorf("%s has neither Run nor subcommands", full)
		}
		// Building the flag set exercises the params struct tags;
		// FlagsFromParams panics on an invalid tag.
		if command.Flags != nil {
			if flagSet := command.Flags(); flagSet == nil {
				t.Errorf("%s Flags() returned nil", full)
			}
		}

		children := map[string]bool{}
		for _, sub := range command.Subcommands {
			walk(sub, full, children)
		}
	}

	walk(Root(), "", map[string]bool{})
}

func TestRoot_ExpectedCommands(t *testing.T) {
	t.Parallel()

	root := Root()
	want := []string{
		"run", "vm", "sandbox", "status", "title", "heartbeat",
		"add", "merge", "host-exec", "version",
	}
	names := make(map[string]bool, len(root.Subcommands))
	for _, sub := range root.Subcommands {
		names[sub.Name] = true
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("root tree is missing %q", name)
		}
	}
	if len(root.Subcommands) != len(want) {
		t.Errorf("root has %d subcommands, want %d", len(root.Subcommands), len(want))
	}
}
