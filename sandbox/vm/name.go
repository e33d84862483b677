// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"encoding/hex"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// SharedInstanceName is the fixed name of the single VM used under
// shared isolation. Every project maps to the same instance.
const SharedInstanceName = "wn-shared"

// InstanceName derives the VM name for a project root under
// per-project isolation. The name is a function of the canonical
// project root path only, so every worktree of a project, and every
// invocation, resolves to the same VM.
//
// Symlinks in the path are resolved first: /code/proj reached via a
// symlinked parent must not get a second VM. If resolution fails (a
// component disappeared), the cleaned path is hashed as-is.
func InstanceName(projectRoot string) string {
	canonical, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		canonical = filepath.Clean(projectRoot)
	}
	sum := blake3.Sum256([]byte(canonical))
	return "wn-" + hex.EncodeToString(sum[:6])
}
