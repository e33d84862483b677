// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// WorkspaceSpawner creates a new agent workspace on the host on
// behalf of a guest. Spawn returns the workspace name.
type WorkspaceSpawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (string, error)
}

// Merger merges a workspace branch on the host on behalf of a guest.
// Merge returns output for display in the guest.
type Merger interface {
	Merge(ctx context.Context, req MergeRequest) (string, error)
}

// SpawnRequest is a validated spawn-agent request. Flags have already
// passed the guest-flag allowlist and include the forced flags.
type SpawnRequest struct {
	// Branch names the new workspace. Empty means auto-naming.
	Branch string

	// Prompt is the initial prompt for the spawned agent.
	Prompt string

	Flags []string

	// Dir is the requesting session's worktree; the orchestrator runs
	// from there to resolve the project.
	Dir string
}

// MergeRequest is a validated merge request.
type MergeRequest struct {
	Branch string
	Flags  []string
	Dir    string
}

// CommandSpawner spawns workspaces by invoking the orchestrator
// binary. Empty Executable means the current binary, falling back to
// "warren" on PATH.
type CommandSpawner struct {
	Executable string
}

func (c *CommandSpawner) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	argv := []string{"add"}
	if req.Branch != "" {
		argv = append(argv, req.Branch)
	} else if !slices.Contains(req.Flags, "--auto-name") {
		argv = append(argv, "--auto-name")
	}
	if req.Prompt != "" {
		argv = append(argv, "--prompt", req.Prompt)
	}
	argv = append(argv, req.Flags...)

	cmd := exec.CommandContext(ctx, orchestratorExecutable(c.Executable), argv...)
	cmd.Dir = req.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("spawn workspace: %v: %s", err, strings.TrimSpace(string(out)))
	}
	if name := strings.TrimSpace(string(out)); name != "" {
		return name, nil
	}
	return req.Branch, nil
}

// CommandMerger merges branches by invoking the orchestrator binary.
type CommandMerger struct {
	Executable string
}

func (c *CommandMerger) Merge(ctx context.Context, req MergeRequest) (string, error) {
	argv := append([]string{"merge", req.Branch}, req.Flags...)
	cmd := exec.CommandContext(ctx, orchestratorExecutable(c.Executable), argv...)
	cmd.Dir = req.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("merge %s: %v: %s", req.Branch, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func orchestratorExecutable(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return "warren"
}
