// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/cmd/warren/cli"
	"github.com/bureau-foundation/warren/lib/tmux"
	"github.com/bureau-foundation/warren/sandbox/guest"
	"github.com/bureau-foundation/warren/sandbox/rpc"
)

// Control-channel deadlines. Pane updates are fire-and-forget;
// spawn and merge wait on the host orchestrator doing real work.
const (
	guestRPCTimeout = 10 * time.Second
	collabTimeout   = 60 * time.Second
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Set the pane status indicator",
		Description: `Set the workspace pane's status indicator, shown in the tmux
status line. With no text the indicator is cleared.

Inside a sandbox the update travels over the session control
channel; on the host it applies to $TMUX_PANE directly.`,
		Usage: "warren status [text...]",
		Run: func(args []string) error {
			text := strings.Join(args, " ")
			if guest.InSandbox() {
				client, err := guest.NewClient()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(context.Background(), guestRPCTimeout)
				defer cancel()
				return client.SetStatus(ctx, text)
			}
			pane := os.Getenv("TMUX_PANE")
			if pane == "" {
				return fmt.Errorf("not inside tmux (TMUX_PANE is unset)")
			}
			return tmux.NewServer("").SetPaneStatus(pane, text)
		},
	}
}

func titleCommand() *cli.Command {
	return &cli.Command{
		Name:    "title",
		Summary: "Set the pane title",
		Usage:   "warren title <text...>",
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("title text is required\n\nUsage: warren title <text...>")
			}
			text := strings.Join(args, " ")
			if guest.InSandbox() {
				client, err := guest.NewClient()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(context.Background(), guestRPCTimeout)
				defer cancel()
				return client.SetTitle(ctx, text)
			}
			pane := os.Getenv("TMUX_PANE")
			if pane == "" {
				return fmt.Errorf("not inside tmux (TMUX_PANE is unset)")
			}
			return tmux.NewServer("").SetPaneTitle(pane, text)
		},
	}
}

func heartbeatCommand() *cli.Command {
	return &cli.Command{
		Name:    "heartbeat",
		Summary: "Report session liveness",
		Description: `Report liveness over the session control channel. Agent hooks
call this on every tool use; outside a sandbox it is a no-op so the
same hook configuration works in both environments.`,
		Usage: "warren heartbeat",
		Run: func(args []string) error {
			if !guest.InSandbox() {
				return nil
			}
			client, err := guest.NewClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), guestRPCTimeout)
			defer cancel()
			return client.Heartbeat(ctx)
		},
	}
}

type addParams struct {
	Prompt     string `flag:"prompt,p" desc:"initial prompt for the spawned agent"`
	WindowName string `flag:"window-name" desc:"tmux window name for the new workspace"`
	AutoName   bool   `flag:"auto-name" desc:"derive the branch name from the prompt"`
	Background bool   `flag:"background" desc:"create the workspace without switching to it"`
}

func addCommand() *cli.Command {
	var params addParams
	return &cli.Command{
		Name:    "add",
		Summary: "Create an agent workspace",
		Description: `Create a new agent workspace. Inside a sandbox the request is
forwarded to the host orchestrator, which creates the worktree and
window outside the guest; the new workspace name is printed.`,
		Usage: "warren add [branch] [flags]",
		Examples: []cli.Example{
			{
				Description: "Spawn a collaborator on a named branch",
				Command:     "warren add fix-auth --prompt 'fix the auth timeout' --background",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("add", &params)
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			branch := ""
			if len(args) == 1 {
				branch = args[0]
			}
			if !guest.InSandbox() {
				return cli.ErrNotImplemented("warren add")
			}

			client, err := guest.NewClient()
			if err != nil {
				return err
			}
			payload := rpc.SpawnAgentPayload{
				Branch: branch,
				Prompt: params.Prompt,
				Flags:  spawnFlags(params),
			}
			ctx, cancel := context.WithTimeout(context.Background(), collabTimeout)
			defer cancel()
			result, err := client.SpawnAgent(ctx, payload)
			if err != nil {
				return err
			}
			fmt.Println(result.Workspace)
			return nil
		},
	}
}

// spawnFlags converts add parameters to the wire flag list the host
// validates against its allowlist.
func spawnFlags(params addParams) []string {
	var flags []string
	if params.WindowName != "" {
		flags = append(flags, "--window-name", params.WindowName)
	}
	if params.AutoName {
		flags = append(flags, "--auto-name")
	}
	if params.Background {
		flags = append(flags, "--background")
	}
	return flags
}

type mergeParams struct {
	Squash bool `flag:"squash" desc:"squash the branch into a single commit"`
}

func mergeCommand() *cli.Command {
	var params mergeParams
	return &cli.Command{
		Name:    "merge",
		Summary: "Merge a workspace branch",
		Description: `Merge a workspace branch. Inside a sandbox the request is
forwarded to the host orchestrator, which merges with hooks and
verification forced off and reports its output back.`,
		Usage: "warren merge <branch> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("merge", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("branch is required\n\nUsage: warren merge <branch> [flags]")
			}
			if !guest.InSandbox() {
				return cli.ErrNotImplemented("warren merge")
			}

			client, err := guest.NewClient()
			if err != nil {
				return err
			}
			payload := rpc.MergePayload{Branch: args[0]}
			if params.Squash {
				payload.Flags = append(payload.Flags, "--squash")
			}
			ctx, cancel := context.WithTimeout(context.Background(), collabTimeout)
			defer cancel()
			result, err := client.Merge(ctx, payload)
			if err != nil {
				return err
			}
			if result.Output != "" {
				fmt.Println(result.Output)
			}
			return nil
		},
	}
}

type hostExecParams struct {
	Dir string `flag:"dir" desc:"working directory, relative to the workspace root"`
}

func hostExecCommand() *cli.Command {
	var params hostExecParams
	return &cli.Command{
		Name:    "host-exec",
		Summary: "Run an allow-listed command on the host",
		Description: `Run a command on the host from inside a sandbox session. The
command must be on the configured host_commands allowlist; output
streams back and the exit code is relayed.

Shim scripts on the guest PATH invoke this, so "cargo build" inside
a sandbox transparently becomes a host build.`,
		Usage: "warren host-exec [flags] <command> [args...]",
		Flags: func() *pflag.FlagSet {
			flagSet := cli.FlagsFromParams("host-exec", &params)
			// Stop at the first positional: everything after the
			// command name belongs to that command, not to warren.
			flagSet.SetInterspersed(false)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("command is required\n\nUsage: warren host-exec [flags] <command> [args...]")
			}
			if !guest.InSandbox() {
				return fmt.Errorf("host-exec requires a sandbox session")
			}

			client, err := guest.NewClient()
			if err != nil {
				return err
			}
			dir := params.Dir
			if dir == "" {
				dir = guestDir()
			}
			// No deadline: builds and test runs take as long as they
			// take. Killing the CLI drops the connection and the host
			// tears the command down.
			code, err := client.Exec(context.Background(), rpc.ExecPayload{
				Command: args[0],
				Args:    args[1:],
				Dir:     dir,
			}, os.Stdout, os.Stderr)
			if err != nil {
				return err
			}
			if code != 0 {
				return &cli.ExitError{Code: code}
			}
			return nil
		},
	}
}

// guestDir derives the working directory forwarded with host-exec:
// the current directory relative to the worktree root. Host and
// guest see the worktree at the same path structure, so the relative
// path lands correctly on the other side. Any failure falls back to
// the worktree root.
func guestDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = resolved
	}
	root, err := gitToplevel(cwd)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, cwd)
	if err != nil || rel == "." {
		return ""
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return rel
}
