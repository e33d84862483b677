// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warren/cmd/warren/cli"
	"github.com/bureau-foundation/warren/sandbox"
	"github.com/bureau-foundation/warren/sandbox/container"
)

func sandboxCommand() *cli.Command {
	return &cli.Command{
		Name:    "sandbox",
		Summary: "Inspect sandbox configuration and tooling",
		Subcommands: []*cli.Command{
			sandboxStatusCommand(),
			sandboxDoctorCommand(),
		},
	}
}

type sandboxProjectParams struct {
	Project string `flag:"project" desc:"project root (default: current git worktree)"`
}

func sandboxStatusCommand() *cli.Command {
	var params sandboxProjectParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show the resolved sandbox configuration",
		Usage:   "warren sandbox status [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(args []string) error {
			logger := cli.NewCommandLogger().With("command", "sandbox/status")
			root, err := projectRoot(params.Project)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root, logger)
			if err != nil {
				return err
			}
			return printStatus(os.Stdout, root, cfg)
		},
	}
}

func sandboxDoctorCommand() *cli.Command {
	var params sandboxProjectParams
	return &cli.Command{
		Name:    "doctor",
		Summary: "Check sandbox tooling and configuration",
		Description: `Check that the host can run sandboxed sessions.

Missing tooling for the configured backend fails the check; tooling
for the other backend only warns. Exits non-zero when any check
fails.`,
		Usage: "warren sandbox doctor [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("doctor", &params)
		},
		Run: func(args []string) error {
			logger := cli.NewCommandLogger().With("command", "sandbox/doctor")
			root, err := projectRoot(params.Project)
			if err != nil {
				return err
			}
			configResult, cfg := checkConfig(root, logger)
			results := append([]checkResult{configResult}, checkTooling(cfg, nil)...)
			return printChecklist(os.Stdout, results)
		},
	}
}

// projectRoot resolves the project root for configuration commands:
// the explicit flag, else the enclosing git worktree, else the
// working directory.
func projectRoot(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if root, err := gitToplevel("."); err == nil {
		return root, nil
	}
	return os.Getwd()
}

func printStatus(out io.Writer, root string, cfg *sandbox.ResolvedConfig) error {
	writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "Project:\t%s\n", root)
	fmt.Fprintf(writer, "Enabled:\t%t\n", cfg.Enabled)
	fmt.Fprintf(writer, "Backend:\t%s\n", cfg.Backend)
	fmt.Fprintf(writer, "Scope:\t%s\n", cfg.Scope)

	switch cfg.Backend {
	case sandbox.BackendVM:
		fmt.Fprintf(writer, "Isolation:\t%s\n", cfg.VM.Isolation)
		fmt.Fprintf(writer, "Resources:\t%d CPUs, %d GiB memory, %d GiB disk\n",
			cfg.VM.CPUs, cfg.VM.MemoryGiB, cfg.VM.DiskGiB)
	default:
		fmt.Fprintf(writer, "Image:\t%s\n", cmp.Or(cfg.Image, "(unset)"))
		fmt.Fprintf(writer, "Runtime:\t%s\n", cmp.Or(cfg.Container.Runtime, "(detect)"))
	}

	if cfg.Network.Policy == sandbox.PolicyDeny {
		fmt.Fprintf(writer, "Network:\tdeny (%d allowed domains)\n", len(cfg.Network.AllowedDomains))
	} else {
		fmt.Fprintf(writer, "Network:\tallow\n")
	}

	fmt.Fprintf(writer, "Host commands:\t%s\n", formatList(cfg.HostCommands))
	if len(cfg.Mounts) == 0 {
		fmt.Fprintf(writer, "Extra mounts:\t(none)\n")
	} else {
		for i, mount := range cfg.Mounts {
			label := ""
			if i == 0 {
				label = "Extra mounts:"
			}
			mode := "ro"
			if mount.Writable {
				mode = "rw"
			}
			fmt.Fprintf(writer, "%s\t%s -> %s (%s)\n", label, mount.Host, mount.Guest, mode)
		}
	}
	fmt.Fprintf(writer, "Env passthrough:\t%s\n", formatList(cfg.EnvPassthrough))
	return writer.Flush()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

// checkResult is one doctor line.
type checkResult struct {
	status  string
	name    string
	message string
}

func checkPass(name, message string) checkResult { return checkResult{"pass", name, message} }
func checkWarn(name, message string) checkResult { return checkResult{"warn", name, message} }
func checkFail(name, message string) checkResult { return checkResult{"fail", name, message} }
func checkSkip(name, message string) checkResult { return checkResult{"skip", name, message} }

// checkConfig loads and resolves the merged configuration. The
// resolved config (nil on failure) steers tooling check severity.
func checkConfig(root string, logger *slog.Logger) (checkResult, *sandbox.ResolvedConfig) {
	cfg, err := loadConfig(root, logger)
	if err != nil {
		return checkFail("config", err.Error()), nil
	}
	if !cfg.Enabled {
		return checkPass("config", fmt.Sprintf("resolved for %s (sandbox disabled)", root)), cfg
	}
	return checkPass("config", fmt.Sprintf("resolved for %s (backend %s)", root, cfg.Backend)), cfg
}

// checkTooling probes the external tools each backend needs. A
// missing tool for the configured backend fails; for the other
// backend it warns. With no resolved config the selection is
// unknown, so everything degrades to warnings. lookPath defaults to
// exec.LookPath.
func checkTooling(cfg *sandbox.ResolvedConfig, lookPath func(string) (string, error)) []checkResult {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	missing := func(backend sandbox.BackendKind) func(name, message string) checkResult {
		if cfg != nil && cfg.Backend == backend {
			return checkFail
		}
		return checkWarn
	}

	var results []checkResult

	if engine, err := container.DetectEngine(lookPath); err != nil {
		results = append(results, missing(sandbox.BackendContainer)("container engine", err.Error()))
	} else {
		results = append(results, checkPass("container engine", fmt.Sprintf("%s available", engine)))
	}

	if _, err := lookPath("limactl"); err != nil {
		results = append(results, missing(sandbox.BackendVM)("limactl", "not found; install Lima (https://lima-vm.io)"))
	} else {
		results = append(results, checkPass("limactl", "available"))
	}

	results = append(results, checkJailTool(lookPath))
	return results
}

// checkJailTool probes the host-exec jail. Its absence never fails:
// host commands still run, just unjailed.
func checkJailTool(lookPath func(string) (string, error)) checkResult {
	var tool string
	switch runtime.GOOS {
	case "linux":
		tool = "bwrap"
	case "darwin":
		tool = "sandbox-exec"
	default:
		return checkSkip("host jail", fmt.Sprintf("no jail tool on %s", runtime.GOOS))
	}
	if _, err := lookPath(tool); err != nil {
		return checkWarn(tool, "not found; host commands run unjailed")
	}
	return checkPass(tool, "available")
}

func printChecklist(out io.Writer, results []checkResult) error {
	anyFailed := false
	for _, result := range results {
		fmt.Fprintf(out, "[%-4s]  %-18s  %s\n",
			strings.ToUpper(result.status), result.name, result.message)
		if result.status == "fail" {
			anyFailed = true
		}
	}
	fmt.Fprintln(out)
	if anyFailed {
		fmt.Fprintln(out, "Some checks failed.")
		return &cli.ExitError{Code: 1}
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}
