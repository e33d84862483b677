// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// Runner executes a CLI command and returns its stdout. The default
// implementation shells out; tests substitute a fake.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run is the default Runner. Stderr is folded into the error so
// limactl diagnostics survive into logs.
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, args[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// Instance status strings as reported by `limactl list`.
const (
	StatusRunning = "Running"
	StatusStopped = "Stopped"
)

// InstanceInfo is one instance as reported by `limactl list --json`.
type InstanceInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Dir    string `json:"dir"`
}

// parseInstanceList decodes `limactl list --json` output: one JSON
// object per line, possibly with blank lines.
func parseInstanceList(out []byte) ([]InstanceInfo, error) {
	var instances []InstanceInfo
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var info InstanceInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, fmt.Errorf("parse limactl list output: %w", err)
		}
		instances = append(instances, info)
	}
	return instances, nil
}

// Operation timeouts. Creation covers an image download plus first
// boot; everything else is bounded interaction with a local daemon.
const (
	versionTimeout   = 5 * time.Second
	listTimeout      = 10 * time.Second
	stopTimeout      = 30 * time.Second
	deleteTimeout    = 60 * time.Second
	createTimeout    = 5 * time.Minute
	provisionTimeout = 10 * time.Minute
)

// Lima drives the limactl CLI. The zero value is usable and shells
// out for real.
type Lima struct {
	Run Runner
}

func (l *Lima) exec(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runner := l.Run
	if runner == nil {
		runner = Run
	}
	return runner(ctx, "limactl", args...)
}

// Available reports whether limactl can be invoked at all.
func (l *Lima) Available(ctx context.Context) bool {
	_, err := l.exec(ctx, versionTimeout, "--version")
	return err == nil
}

// List returns all Lima instances known to limactl.
func (l *Lima) List(ctx context.Context) ([]InstanceInfo, error) {
	out, err := l.exec(ctx, listTimeout, "list", "--json")
	if err != nil {
		return nil, fmt.Errorf("list lima instances: %w", err)
	}
	return parseInstanceList(out)
}

// Create boots a new instance from the given configuration YAML. The
// configuration is staged in a temporary file for the duration of the
// call; Lima copies what it needs into the instance directory.
func (l *Lima) Create(ctx context.Context, name, configYAML string) error {
	file, err := os.CreateTemp("", "warren-lima-"+name+"-*.yaml")
	if err != nil {
		return fmt.Errorf("stage lima config: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(configYAML); err != nil {
		file.Close()
		return fmt.Errorf("stage lima config: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("stage lima config: %w", err)
	}

	if _, err := l.exec(ctx, createTimeout, "start", "--name", name, "--tty=false", file.Name()); err != nil {
		return fmt.Errorf("create VM %s: %w", name, err)
	}
	return nil
}

// Start boots an existing stopped instance.
func (l *Lima) Start(ctx context.Context, name string) error {
	if _, err := l.exec(ctx, createTimeout, "start", "--tty=false", name); err != nil {
		return fmt.Errorf("start VM %s: %w", name, err)
	}
	return nil
}

// Stop shuts an instance down. Its disk and our record survive.
func (l *Lima) Stop(ctx context.Context, name string) error {
	if _, err := l.exec(ctx, stopTimeout, "stop", name); err != nil {
		return fmt.Errorf("stop VM %s: %w", name, err)
	}
	return nil
}

// Delete destroys an instance and its disk. Running instances are
// stopped first.
func (l *Lima) Delete(ctx context.Context, name string) error {
	if _, err := l.exec(ctx, deleteTimeout, "delete", "--force", name); err != nil {
		return fmt.Errorf("delete VM %s: %w", name, err)
	}
	return nil
}

// Shell runs a script inside the guest through bash and returns its
// stdout. System scripts run under sudo (the Lima default user has
// passwordless sudo).
func (l *Lima) Shell(ctx context.Context, name, script string, sudo bool) ([]byte, error) {
	args := []string{"shell", name, "--"}
	if sudo {
		args = append(args, "sudo")
	}
	args = append(args, "bash", "-c", script)
	out, err := l.exec(ctx, provisionTimeout, args...)
	if err != nil {
		return nil, fmt.Errorf("shell in VM %s: %w", name, err)
	}
	return out, nil
}

// HostGatewayAddr is the host's address on Lima's user-mode network.
// host.lima.internal resolves to it inside every guest.
const HostGatewayAddr = "192.168.5.2"

// guestPathExport puts the host-command shims, the agent CLI, warren,
// and the nix profile on PATH inside the guest. Evaluated by the guest
// shell, so $HOME and $PATH expand there.
const guestPathExport = `export PATH="$HOME/.warren-state/shims/bin:$HOME/.local/bin:/nix/var/nix/profiles/default/bin:$PATH"`

// EnvVar is one environment variable passed into the guest.
type EnvVar struct {
	Name  string
	Value string
}

// ShellArgs builds the argv that runs a command inside the guest as
// the pane process. The command goes through `eval` so the PATH
// export can reference guest-side variables; everything else (env
// values, the command itself) is quoted and evaluates to its literal
// self.
func ShellArgs(name, workdir string, env []EnvVar, command []string) []string {
	parts := []string{guestPathExport}
	for _, variable := range env {
		parts = append(parts, "export "+variable.Name+"="+shellquote.Join(variable.Value))
	}
	parts = append(parts, shellquote.Join(command...))
	return []string{
		"limactl", "shell", "--workdir", workdir, name,
		"--", "eval", strings.Join(parts, "; "),
	}
}
