// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete warren CLI command tree. The
// same binary serves two roles: on the host it manages sandboxed
// sessions and VMs, and inside a guest (where the sandbox marker
// variable is set) the workflow verbs forward over the session's
// control channel instead of touching host state directly.
package commands

import (
	"fmt"

	"github.com/bureau-foundation/warren/cmd/warren/cli"
	"github.com/bureau-foundation/warren/lib/version"
)

// Root builds and returns the complete warren CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "warren",
		Description: `Warren: sandboxed workspaces for coding agents.

Run agent sessions inside ephemeral containers or persistent VMs,
with credential isolation, deny-by-default egress, and a host
control channel for status, spawn, and merge requests.`,
		Subcommands: []*cli.Command{
			runCommand(),
			vmCommand(),
			sandboxCommand(),
			statusCommand(),
			titleCommand(),
			heartbeatCommand(),
			addCommand(),
			mergeCommand(),
			hostExecCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("warren %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Run an agent in a sandboxed workspace",
				Command:     "warren run --workspace falcon -- claude --continue",
			},
			{
				Description: "Check sandbox tooling and configuration",
				Command:     "warren sandbox doctor",
			},
			{
				Description: "List sandbox VMs and their state",
				Command:     "warren vm list",
			},
			{
				Description: "Delete stopped VMs, archiving their state first",
				Command:     "warren vm prune --archive",
			},
			{
				Description: "Report agent progress from inside a sandbox",
				Command:     "warren status thinking",
			},
		},
	}
}
