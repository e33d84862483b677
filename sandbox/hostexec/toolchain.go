// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"os"
	"path/filepath"
)

// Toolchain identifies a per-project toolchain manager detected in the
// worktree. Commands run through the toolchain so they see the
// project's pinned tools rather than whatever the host has installed.
type Toolchain int

const (
	// ToolchainNone runs commands directly.
	ToolchainNone Toolchain = iota
	// ToolchainDevbox wraps commands in "devbox run".
	ToolchainDevbox
	// ToolchainFlake wraps commands in "nix develop --command".
	ToolchainFlake
)

// String returns the toolchain name for logs.
func (t Toolchain) String() string {
	switch t {
	case ToolchainDevbox:
		return "devbox"
	case ToolchainFlake:
		return "flake"
	default:
		return "none"
	}
}

// DetectToolchain inspects the worktree root for toolchain
// configuration. Devbox wins over a flake when both are present,
// since devbox projects usually carry a generated flake as well.
func DetectToolchain(worktree string) Toolchain {
	if fileExists(filepath.Join(worktree, "devbox.json")) {
		return ToolchainDevbox
	}
	if fileExists(filepath.Join(worktree, "flake.nix")) {
		return ToolchainFlake
	}
	return ToolchainNone
}

// Wrap returns the argv to run command through the toolchain. The
// command and its arguments are passed to bash as positional
// parameters and expanded with "$@", never interpolated into the
// script text, so no quoting of the caller's arguments is needed.
func (t Toolchain) Wrap(argv []string) []string {
	var script string
	switch t {
	case ToolchainDevbox:
		script = `exec devbox run -- "$@"`
	case ToolchainFlake:
		script = `exec nix develop --command "$@"`
	default:
		return argv
	}
	wrapped := []string{"bash", "-c", script, "--"}
	return append(wrapped, argv...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
