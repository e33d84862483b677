// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/warren/cmd/warren/cli"
	"github.com/bureau-foundation/warren/lib/git"
	"github.com/bureau-foundation/warren/lib/tmux"
	"github.com/bureau-foundation/warren/sandbox"
)

type runParams struct {
	Worktree  string `flag:"worktree" desc:"worktree to expose to the guest (default: current git worktree)"`
	Dir       string `flag:"dir" desc:"initial working directory, relative to the worktree"`
	Workspace string `flag:"workspace" desc:"workspace name for logs and collaborators"`
	Pane      string `flag:"pane" desc:"tmux pane for status updates (default: $TMUX_PANE)"`
	Agent     string `flag:"agent" desc:"credential store seeded into the guest" default:"claude"`
}

func runCommand() *cli.Command {
	var params runParams
	return &cli.Command{
		Name:    "run",
		Summary: "Run a command in a sandboxed workspace",
		Description: `Run a command inside the configured sandbox backend.

The worktree is bind-mounted into the guest and everything after --
is the command to run there, typically an agent invocation. The
command's exit code becomes warren's exit code.`,
		Usage: "warren run [flags] -- <command> [args...]",
		Examples: []cli.Example{
			{
				Description: "Run an agent in the current worktree",
				Command:     "warren run --workspace falcon -- claude --continue",
			},
			{
				Description: "Run a one-off build in the sandbox",
				Command:     "warren run --worktree ../falcon -- make test",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("run", &params)
		},
		Run: func(args []string) error {
			return runSession(params, args)
		},
	}
}

func runSession(params runParams, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("command required\n\nUsage: warren run [flags] -- <command> [args...]")
	}
	logger := cli.NewCommandLogger().With("command", "run")

	worktree := params.Worktree
	if worktree == "" {
		root, err := gitToplevel(".")
		if err != nil {
			return fmt.Errorf("not inside a git worktree (pass --worktree): %w", err)
		}
		worktree = root
	}
	worktree, err := filepath.Abs(worktree)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(worktree, logger)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return fmt.Errorf("sandbox is not enabled for %s (set sandbox.enabled in warren.yaml)", worktree)
	}

	stateRoot, err := sandbox.StateRoot()
	if err != nil {
		return err
	}
	backend, err := newBackend(cfg, stateRoot, logger)
	if err != nil {
		return err
	}

	dir := params.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(worktree, dir)
	}
	pane := params.Pane
	if pane == "" {
		pane = os.Getenv("TMUX_PANE")
	}

	supervisor := &sandbox.Supervisor{
		Config:  cfg,
		Backend: backend,
		Spawner: &sandbox.CommandSpawner{},
		Merger:  &sandbox.CommandMerger{},
		Status:  tmux.NewServer(""),
		Logger:  logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := supervisor.Run(ctx, sandbox.RunRequest{
		Worktree:    worktree,
		Dir:         dir,
		PaneID:      pane,
		Workspace:   params.Workspace,
		Agent:       params.Agent,
		Command:     command,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return &cli.ExitError{Code: code}
	}
	return nil
}

// loadConfig loads and resolves the sandbox configuration for a
// project root.
func loadConfig(root string, logger *slog.Logger) (*sandbox.ResolvedConfig, error) {
	merged, err := sandbox.LoadMerged(root, logger)
	if err != nil {
		return nil, err
	}
	return (&sandbox.Resolver{}).Resolve(merged)
}

// newBackend constructs the backend the configuration selects.
func newBackend(cfg *sandbox.ResolvedConfig, stateRoot string, logger *slog.Logger) (sandbox.Backend, error) {
	switch cfg.Backend {
	case sandbox.BackendVM:
		return sandbox.NewVMBackend(cfg, stateRoot, logger)
	default:
		return sandbox.NewContainerBackend(cfg, stateRoot, logger)
	}
}

// gitToplevel resolves the worktree root containing dir.
func gitToplevel(dir string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := git.NewRepository(dir).Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
