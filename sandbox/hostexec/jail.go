// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JailOptions holds everything needed to build a jailed command line.
type JailOptions struct {
	// Profile is the deny/allow profile to enforce.
	Profile *Profile

	// Home is the absolute home directory the profile paths are
	// relative to.
	Home string

	// Worktree is the absolute path of the agent worktree. It is the
	// only project path the command may write.
	Worktree string

	// Dir is the working directory for the command, inside the
	// worktree.
	Dir string

	// Env is the sanitized environment. Only the bwrap builder
	// consumes it (via --clearenv/--setenv); on other platforms the
	// caller applies it to the process directly.
	Env []string

	// Command is the argv to run inside the jail.
	Command []string
}

func (o *JailOptions) validate() error {
	if o.Profile == nil {
		return fmt.Errorf("profile is required")
	}
	if o.Worktree == "" {
		return fmt.Errorf("worktree is required")
	}
	if len(o.Command) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}

// BwrapArgs builds the bubblewrap command line for opts. The jail
// shares the host filesystem read-only, hides credential paths behind
// tmpfs and /dev/null, and grants write access only to the worktree,
// the profile's cache directories, and a private /tmp.
func BwrapArgs(opts *JailOptions) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	args := []string{
		"bwrap",
		"--die-with-parent",
		"--new-session",
		"--unshare-pid",
		"--ro-bind", "/", "/",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}

	// Hide credential directories behind empty tmpfs and credential
	// files behind /dev/null. Only paths that exist need covering.
	for _, dir := range opts.Profile.DenyReadDirs {
		path := filepath.Join(opts.Home, dir)
		if pathExists(path) {
			args = append(args, "--tmpfs", path)
		}
	}
	for _, file := range opts.Profile.DenyReadFiles {
		path := filepath.Join(opts.Home, file)
		if pathExists(path) {
			args = append(args, "--bind", "/dev/null", path)
		}
	}

	// Writable paths: the worktree and the profile's cache
	// directories, bound read-write over the read-only root.
	args = append(args, "--bind", opts.Worktree, opts.Worktree)
	for _, dir := range opts.Profile.AllowWriteDirs {
		path := filepath.Join(opts.Home, dir)
		if pathExists(path) {
			args = append(args, "--bind", path, path)
		}
	}

	args = append(args, "--clearenv")
	for _, kv := range opts.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		args = append(args, "--setenv", key, value)
	}

	if opts.Dir != "" {
		args = append(args, "--chdir", opts.Dir)
	}

	args = append(args, "--")
	args = append(args, opts.Command...)
	return args, nil
}

// SeatbeltArgs builds the sandbox-exec command line for opts. The
// generated profile is deny-by-exception: reads are allowed except for
// credential paths, writes are denied except for the worktree, cache
// directories, and temporary locations.
func SeatbeltArgs(opts *JailOptions) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	args := []string{"sandbox-exec", "-p", seatbeltProfile(opts)}
	return append(args, opts.Command...), nil
}

// seatbeltProfile renders the Seatbelt policy. Later rules take
// precedence, so the read denials come last: nothing below them can
// re-allow a credential path.
func seatbeltProfile(opts *JailOptions) string {
	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(allow default)\n")

	b.WriteString("(deny file-write*)\n")
	writable := []string{
		opts.Worktree,
		"/tmp",
		"/private/tmp",
		"/private/var/folders",
		"/dev",
	}
	for _, dir := range opts.Profile.AllowWriteDirs {
		writable = append(writable, filepath.Join(opts.Home, dir))
	}
	b.WriteString("(allow file-write*")
	for _, path := range writable {
		fmt.Fprintf(&b, "\n  (subpath %s)", seatbeltQuote(path))
	}
	b.WriteString(")\n")

	if len(opts.Profile.DenyReadDirs) > 0 {
		b.WriteString("(deny file-read*")
		for _, dir := range opts.Profile.DenyReadDirs {
			fmt.Fprintf(&b, "\n  (subpath %s)", seatbeltQuote(filepath.Join(opts.Home, dir)))
		}
		b.WriteString(")\n")
	}
	if len(opts.Profile.DenyReadFiles) > 0 {
		b.WriteString("(deny file-read*")
		for _, file := range opts.Profile.DenyReadFiles {
			fmt.Fprintf(&b, "\n  (literal %s)", seatbeltQuote(filepath.Join(opts.Home, file)))
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// seatbeltQuote renders a path as a Seatbelt string literal.
func seatbeltQuote(path string) string {
	escaped := strings.ReplaceAll(path, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
