// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kballard/go-shellquote"
)

// shimScript dispatches on the name it was invoked as, so one script
// serves every allowlisted command through symlinks. The working
// directory travels implicitly; the CLI resolves it before forwarding.
const shimScriptTemplate = `#!/bin/sh
# Generated by warren. Do not edit; regenerated on session start.
exec %s host-exec "${0##*/}" "$@"
`

// ShimDir returns the shim bin directory under a state directory.
// Guests put it at the front of PATH so allowlisted host commands
// resolve like local binaries.
func ShimDir(stateDir string) string {
	return filepath.Join(stateDir, "shims", "bin")
}

// WriteShims builds the shim directory for the given command names.
// Each name becomes a symlink to a single _shim dispatcher that
// re-invokes executable (the warren binary as reachable from the
// guest). The directory is built aside and swapped in, so a guest
// resolving a shim mid-rebuild sees either the old set or the new set,
// never a partial one.
func WriteShims(stateDir, executable string, commands []string) (string, error) {
	for _, name := range commands {
		if err := ValidateName(name); err != nil {
			return "", fmt.Errorf("shim %w", err)
		}
	}

	names := append([]string(nil), commands...)
	names = append(names, Builtins()...)
	sort.Strings(names)
	names = dedupe(names)

	binDir := ShimDir(stateDir)
	parent := filepath.Dir(binDir)
	tmpDir := filepath.Join(parent, ".bin.tmp")
	oldDir := filepath.Join(parent, ".bin.old")

	if err := os.RemoveAll(tmpDir); err != nil {
		return "", fmt.Errorf("clear shim staging: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create shim staging: %w", err)
	}

	script := fmt.Sprintf(shimScriptTemplate, shellquote.Join(executable))
	if err := os.WriteFile(filepath.Join(tmpDir, "_shim"), []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("write shim dispatcher: %w", err)
	}
	for _, name := range names {
		if err := os.Symlink("_shim", filepath.Join(tmpDir, name)); err != nil {
			return "", fmt.Errorf("link shim %s: %w", name, err)
		}
	}

	// Swap: move the live directory aside, move the staged one in,
	// then discard the old. Only the middle rename is visible to
	// guests resolving shims.
	if err := os.RemoveAll(oldDir); err != nil {
		return "", fmt.Errorf("clear old shims: %w", err)
	}
	if _, err := os.Lstat(binDir); err == nil {
		if err := os.Rename(binDir, oldDir); err != nil {
			return "", fmt.Errorf("retire old shims: %w", err)
		}
	}
	if err := os.Rename(tmpDir, binDir); err != nil {
		return "", fmt.Errorf("activate shims: %w", err)
	}
	if err := os.RemoveAll(oldDir); err != nil {
		return "", fmt.Errorf("discard old shims: %w", err)
	}
	return binDir, nil
}

// dedupe removes adjacent duplicates from a sorted slice.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, name := range sorted {
		if i > 0 && sorted[i-1] == name {
			continue
		}
		out = append(out, name)
	}
	return out
}
