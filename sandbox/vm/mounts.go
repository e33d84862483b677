// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"path"
	"sort"
)

// GuestHome returns the home directory Lima assigns to the host user
// inside the guest.
func GuestHome(username string) string {
	return "/home/" + username + ".linux"
}

// StateDirMountPoint is the guest-home-relative mount point of the
// per-VM host state directory.
const StateDirMountPoint = ".warren-state"

// credentialGuestDirs maps agent type to the guest-home-relative
// directory where that agent's CLI expects its credentials.
var credentialGuestDirs = map[string]string{
	"claude":   ".claude",
	"gemini":   ".gemini",
	"codex":    ".codex",
	"opencode": ".local/share/opencode",
}

// CredentialGuestDir returns the guest-home-relative credential
// directory for an agent type, or "" for unknown agents.
func CredentialGuestDir(agent string) string {
	return credentialGuestDirs[agent]
}

// MountPlanSpec is the input to MountPlan. All host directories must
// already exist; Lima refuses to mount missing paths.
type MountPlanSpec struct {
	// Shared selects shared isolation: one mount of ProjectsDir
	// instead of per-project mounts.
	Shared      bool
	ProjectsDir string

	// Project isolation mounts. GitCommonDir is mounted separately
	// only when it lives outside ProjectRoot (separate git dir).
	ProjectRoot  string
	GitCommonDir string
	WorktreesDir string

	// StateDir is the per-VM host state directory, mounted at
	// StateDirMountPoint under GuestHome.
	StateDir  string
	GuestHome string

	// CredentialDirs maps agent type to the host directory holding
	// that agent's credentials.
	CredentialDirs map[string]string

	ExtraMounts []Mount
}

// MountPlan computes the fixed mount set for a VM. The order is
// stable: isolation mounts, credential mounts (by agent name), state
// directory, then extra mounts as configured.
func MountPlan(spec MountPlanSpec) []Mount {
	var mounts []Mount

	if spec.Shared {
		mounts = append(mounts, Mount{Host: spec.ProjectsDir, Writable: true})
	} else {
		mounts = append(mounts, Mount{Host: spec.ProjectRoot, Writable: true})
		if spec.GitCommonDir != "" && !within(spec.GitCommonDir, spec.ProjectRoot) {
			mounts = append(mounts, Mount{Host: spec.GitCommonDir, Writable: true})
		}
		if spec.WorktreesDir != "" {
			mounts = append(mounts, Mount{Host: spec.WorktreesDir, Writable: true})
		}
	}

	agents := make([]string, 0, len(spec.CredentialDirs))
	for agent := range spec.CredentialDirs {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		guestDir := CredentialGuestDir(agent)
		if guestDir == "" {
			continue
		}
		mounts = append(mounts, Mount{
			Host:     spec.CredentialDirs[agent],
			Guest:    path.Join(spec.GuestHome, guestDir),
			Writable: true,
		})
	}

	if spec.StateDir != "" {
		mounts = append(mounts, Mount{
			Host:     spec.StateDir,
			Guest:    path.Join(spec.GuestHome, StateDirMountPoint),
			Writable: true,
		})
	}

	return append(mounts, spec.ExtraMounts...)
}

func within(child, parent string) bool {
	if parent == "" {
		return false
	}
	if child == parent {
		return true
	}
	return len(child) > len(parent) && child[:len(parent)] == parent && child[len(parent)] == '/'
}
