// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// GuestProcess is a started guest command.
type GuestProcess interface {
	// Wait blocks until the guest exits and returns its exit code.
	// Signal death maps to 1, matching what a shell reports for a
	// killed child.
	Wait() (int, error)

	// Signal forwards sig to the guest process.
	Signal(sig os.Signal) error
}

// Backend starts and tears down isolated sessions. The container and
// VM drivers implement it; the Supervisor drives it.
type Backend interface {
	// Kind reports which configuration selector this backend serves.
	Kind() BackendKind

	// StateDir returns the session's persistent state directory,
	// creating it if needed. Shims, audit logs, and credential seeds
	// live there; the VM backend also mounts it into the guest.
	StateDir(ctx context.Context, session *Session) (string, error)

	// MountPlan reports the binds the session will receive, in mount
	// order. Diagnostic surface for the doctor command.
	MountPlan(ctx context.Context, session *Session) ([]Mount, error)

	// Start launches the guest command with the session's control
	// channel coordinates in its environment.
	Start(ctx context.Context, session *Session) (GuestProcess, error)

	// Teardown releases whatever Start left behind once the guest has
	// exited. Idempotent; called even after a failed Start.
	Teardown(ctx context.Context, session *Session) error
}

// childProcess adapts an exec.Cmd to GuestProcess.
type childProcess struct {
	cmd *exec.Cmd
}

func startChild(cmd *exec.Cmd) (GuestProcess, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &childProcess{cmd: cmd}, nil
}

func (p *childProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		if code := exit.ExitCode(); code >= 0 {
			return code, nil
		}
		return 1, nil
	}
	return 0, err
}

func (p *childProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}
