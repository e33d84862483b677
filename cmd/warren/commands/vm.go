// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/warren/cmd/warren/cli"
	"github.com/bureau-foundation/warren/sandbox"
	"github.com/bureau-foundation/warren/sandbox/vm"
)

// vmCommandTimeout bounds limactl invocations for list and stop.
// Deleting can take longer when an instance is still shutting down.
const (
	vmCommandTimeout = 2 * time.Minute
	vmDeleteTimeout  = 10 * time.Minute
)

func vmCommand() *cli.Command {
	return &cli.Command{
		Name:    "vm",
		Summary: "Manage sandbox VMs",
		Description: `Manage the persistent VMs backing sandbox sessions.

VMs are created on demand by "warren run" under the vm backend and
survive across sessions. These commands inspect and reclaim them.`,
		Subcommands: []*cli.Command{
			vmListCommand(),
			vmStopCommand(),
			vmDeleteCommand(),
			vmPruneCommand(),
		},
	}
}

func vmListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List sandbox VMs and their state",
		Usage:   "warren vm list",
		Run: func(args []string) error {
			manager, _, err := newVMManager()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), vmCommandTimeout)
			defer cancel()

			statuses, err := manager.List(ctx)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No sandbox VMs.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "NAME\tSTATE\tCPUS\tMEMORY\tDISK\tPROJECT")
			for _, status := range statuses {
				record := status.Record
				state := status.State
				if !record.Provisioned && state != vm.StateMissing {
					state += " (unprovisioned)"
				}
				project := record.ProjectRoot
				if project == "" {
					project = "(shared)"
				}
				fmt.Fprintf(writer, "%s\t%s\t%d\t%dGiB\t%dGiB\t%s\n",
					record.Name, state, record.CPUs, record.MemoryGiB, record.DiskGiB, project)
			}
			return writer.Flush()
		},
	}
}

func vmStopCommand() *cli.Command {
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop a running sandbox VM",
		Usage:   "warren vm stop <name>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("VM name is required\n\nUsage: warren vm stop <name>")
			}
			name := args[0]

			manager, _, err := newVMManager()
			if err != nil {
				return err
			}
			if _, ok, err := manager.Registry.Get(name); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("no warren VM named %s", name)
			}

			ctx, cancel := context.WithTimeout(context.Background(), vmCommandTimeout)
			defer cancel()
			if err := manager.Stop(ctx, name); err != nil {
				return err
			}
			fmt.Printf("Stopped %s.\n", name)
			return nil
		},
	}
}

type vmDeleteParams struct {
	Archive bool `flag:"archive" desc:"archive the state directory before deleting"`
	Force   bool `flag:"force,f" desc:"skip the confirmation prompt"`
}

func vmDeleteCommand() *cli.Command {
	var params vmDeleteParams
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a sandbox VM and its state",
		Description: `Delete a VM, its record, and its state directory.

The state directory holds the guest home: shell history, agent
caches, anything the sessions accumulated. Pass --archive to keep a
compressed copy before it goes.`,
		Usage: "warren vm delete <name> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("VM name is required\n\nUsage: warren vm delete <name> [flags]")
			}
			name := args[0]

			manager, stateRoot, err := newVMManager()
			if err != nil {
				return err
			}
			if _, ok, err := manager.Registry.Get(name); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("no warren VM named %s", name)
			}

			if !params.Force && !confirm(fmt.Sprintf("Delete VM %s and its state?", name)) {
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), vmDeleteTimeout)
			defer cancel()
			if err := deleteVM(ctx, manager, stateRoot, name, params.Archive); err != nil {
				return err
			}
			fmt.Printf("Deleted %s.\n", name)
			return nil
		},
	}
}

type vmPruneParams struct {
	Archive bool `flag:"archive" desc:"archive each state directory before deleting"`
	Force   bool `flag:"force,f" desc:"skip the confirmation prompt"`
}

func vmPruneCommand() *cli.Command {
	var params vmPruneParams
	return &cli.Command{
		Name:    "prune",
		Summary: "Delete all sandbox VMs",
		Usage:   "warren vm prune [flags]",
		Examples: []cli.Example{
			{
				Description: "Reclaim disk, keeping archives of every guest home",
				Command:     "warren vm prune --archive",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("prune", &params)
		},
		Run: func(args []string) error {
			manager, stateRoot, err := newVMManager()
			if err != nil {
				return err
			}
			records, err := manager.Registry.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No sandbox VMs.")
				return nil
			}

			names := make([]string, len(records))
			for i, record := range records {
				names[i] = record.Name
			}
			if !params.Force && !confirm(fmt.Sprintf("Delete %d VM(s) (%s) and their state?",
				len(names), strings.Join(names, ", "))) {
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), vmDeleteTimeout)
			defer cancel()

			failed := 0
			for _, name := range names {
				if err := deleteVM(ctx, manager, stateRoot, name, params.Archive); err != nil {
					fmt.Fprintf(os.Stderr, "delete %s: %v\n", name, err)
					failed++
					continue
				}
				fmt.Printf("Deleted %s.\n", name)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d VM(s) not deleted", failed, len(names))
			}
			return nil
		},
	}
}

// newVMManager builds a Manager over the standard registry location.
// Returns the state root alongside so callers can reach state
// directories and archives.
func newVMManager() (*vm.Manager, string, error) {
	stateRoot, err := sandbox.StateRoot()
	if err != nil {
		return nil, "", err
	}
	manager := &vm.Manager{
		Registry: vm.NewRegistry(filepath.Join(stateRoot, "vm", "registry")),
		Lima:     &vm.Lima{Run: vm.Run},
		Logger:   cli.NewCommandLogger().With("command", "vm"),
	}
	return manager, stateRoot, nil
}

// deleteVM archives (optionally) and removes one VM: the limactl
// instance, the registry record, and the state directory.
func deleteVM(ctx context.Context, manager *vm.Manager, stateRoot, name string, archive bool) error {
	stateDir := filepath.Join(stateRoot, "vm", name)
	if archive {
		if _, err := os.Stat(stateDir); err == nil {
			dest, err := archiveStateDir(stateRoot, name, stateDir)
			if err != nil {
				return fmt.Errorf("archive %s: %w", name, err)
			}
			fmt.Printf("Archived %s to %s.\n", name, dest)
		}
	}
	if err := manager.Delete(ctx, name); err != nil {
		return err
	}
	return os.RemoveAll(stateDir)
}

// archiveStateDir writes a tar.zst of the state directory under
// <stateRoot>/archives and returns the archive path.
func archiveStateDir(stateRoot, name, stateDir string) (string, error) {
	archiveDir := filepath.Join(stateRoot, "archives")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().UTC().Format("20060102-150405")
	dest := filepath.Join(archiveDir, fmt.Sprintf("%s-%s.tar.zst", name, stamp))
	if err := vm.Archive(stateDir, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// confirm prompts on stderr and reads a line from stdin. A
// non-terminal stdin auto-confirms: scripted callers pass --force or
// accept the prompt by piping.
func confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
