// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

// Exit codes follow shell convention: 127 for a command that cannot be
// resolved (invalid or not allowed), 126 for one that resolved but
// could not be started.
const (
	ExitNotAllowed   = 127
	ExitStartFailure = 126
)

// Request is one host command invocation requested by a guest.
type Request struct {
	// Command is the bare command name.
	Command string

	// Args are passed to the command verbatim.
	Args []string

	// Dir is the working directory. It must already be confined to
	// the worktree by the caller; empty means the worktree root.
	Dir string
}

// Runner executes allowlisted host commands inside the platform jail.
// The zero value is not usable: Worktree and Home must be set. All
// other fields have working defaults.
type Runner struct {
	// Allowlist are the operator-configured command names, already
	// merged across configuration scopes.
	Allowlist []string

	// Worktree is the absolute path of the agent worktree.
	Worktree string

	// Home is the absolute home directory used for jail profile
	// paths and the child's HOME.
	Home string

	// Profile is the jail profile. Nil means DefaultProfile.
	Profile *Profile

	// Toolchain wraps commands in the project's toolchain manager.
	Toolchain Toolchain

	// Logger receives degrade warnings. Nil discards them.
	Logger *slog.Logger

	// Audit, when set, records every decided request.
	Audit *Audit

	// Environ is the host environment to sanitize. Nil means
	// os.Environ.
	Environ []string

	// LookPath resolves jail tools. Nil means exec.LookPath.
	LookPath func(string) (string, error)
}

// Run executes one request, streaming output to stdout and stderr, and
// returns the exit code. Rejections are results, not errors: the
// diagnostic goes to stderr and the code is ExitNotAllowed or
// ExitStartFailure, with a nil error. A non-nil error means the run
// was aborted (context cancellation) and no meaningful code exists.
func (r *Runner) Run(ctx context.Context, req Request, stdout, stderr io.Writer) (int, error) {
	if err := ValidateName(req.Command); err != nil {
		fmt.Fprintf(stderr, "warren: %v\n", err)
		r.record(req, ExitNotAllowed, false, true)
		return ExitNotAllowed, nil
	}
	if !Allowed(req.Command, r.Allowlist) {
		fmt.Fprintf(stderr, "warren: command not allowed: %s\n", req.Command)
		r.record(req, ExitNotAllowed, false, true)
		return ExitNotAllowed, nil
	}

	dir := req.Dir
	if dir == "" {
		dir = r.Worktree
	}
	env := SanitizeEnv(r.environ(), r.Home)

	argv := append([]string{req.Command}, req.Args...)
	argv = r.Toolchain.Wrap(argv)

	argv, jailed, err := r.jailCommand(argv, dir, env)
	if err != nil {
		return 0, err
	}
	if !jailed {
		r.logger().Warn("running host command without a jail",
			"command", req.Command, "os", runtime.GOOS)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Run the command in its own process group so cancellation kills
	// the whole tree, not just the immediate child. The jail binary
	// forwards signals, but an unjailed toolchain wrapper would not.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var code int
	var exitErr *exec.ExitError
	runErr := cmd.Run()
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		code = exitStatus(exitErr)
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		// The command never started: missing binary, permission, or
		// a jail tool that vanished between LookPath and exec.
		fmt.Fprintf(stderr, "warren: failed to start %s: %v\n", req.Command, runErr)
		code = ExitStartFailure
	}
	r.record(req, code, jailed, false)
	return code, nil
}

// exitStatus folds an exited process into a shell-style code. A
// process killed by a signal reports 128 plus the signal number,
// matching what a shell would show.
func exitStatus(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

// jailCommand wraps argv in the platform jail. When the jail tool is
// not installed the original argv comes back with jailed=false and the
// command runs with host privileges.
func (r *Runner) jailCommand(argv []string, dir string, env []string) ([]string, bool, error) {
	opts := &JailOptions{
		Profile:  r.profile(),
		Home:     r.Home,
		Worktree: r.Worktree,
		Dir:      dir,
		Env:      env,
		Command:  argv,
	}
	switch runtime.GOOS {
	case "linux":
		if _, err := r.lookPath("bwrap"); err != nil {
			return argv, false, nil
		}
		jailed, err := BwrapArgs(opts)
		if err != nil {
			return nil, false, err
		}
		return jailed, true, nil
	case "darwin":
		if _, err := r.lookPath("sandbox-exec"); err != nil {
			return argv, false, nil
		}
		jailed, err := SeatbeltArgs(opts)
		if err != nil {
			return nil, false, err
		}
		return jailed, true, nil
	default:
		return argv, false, nil
	}
}

func (r *Runner) record(req Request, code int, jailed, denied bool) {
	if r.Audit == nil {
		return
	}
	entry := Entry{
		Command: req.Command,
		Args:    req.Args,
		Dir:     req.Dir,
		Exit:    code,
		Jailed:  jailed,
		Denied:  denied,
	}
	if err := r.Audit.Record(entry); err != nil {
		r.logger().Warn("audit record failed", "error", err)
	}
}

func (r *Runner) profile() *Profile {
	if r.Profile != nil {
		return r.Profile
	}
	return DefaultProfile()
}

func (r *Runner) environ() []string {
	if r.Environ != nil {
		return r.Environ
	}
	return os.Environ()
}

func (r *Runner) lookPath(name string) (string, error) {
	if r.LookPath != nil {
		return r.LookPath(name)
	}
	return exec.LookPath(name)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}
