// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for repository
// identity and worktree metadata. Warren uses git to answer two
// questions: which project does a directory belong to (the canonical
// project root, which keys VM identity), and where does a worktree's
// shared metadata live (which the container backend must bind-mount
// alongside the worktree). All commands target a specific directory
// via the -C flag, injected by every Repository method.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory: callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory,
// which may be a primary checkout or a linked worktree.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// CommonDir returns the absolute path of the repository's common git
// directory: the shared .git directory that all worktrees of the
// repository point at. For a primary checkout this is <root>/.git; for
// a linked worktree it is the primary checkout's .git directory.
func (r *Repository) CommonDir(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(out)
	if dir == "" {
		return "", fmt.Errorf("git rev-parse --git-common-dir in %s: empty output", r.dir)
	}
	return filepath.Clean(dir), nil
}

// ProjectRoot returns the canonical project root: the parent of the
// common git directory. Every worktree of a repository resolves to
// the same project root, which is what makes it usable as a stable
// identity for per-project resources (VM names, state directories).
func (r *Repository) ProjectRoot(ctx context.Context) (string, error) {
	commonDir, err := r.CommonDir(ctx)
	if err != nil {
		return "", err
	}
	return ProjectRootFromCommonDir(commonDir), nil
}

// ProjectRootFromCommonDir derives the project root from a common git
// directory path without invoking git.
func ProjectRootFromCommonDir(commonDir string) string {
	return filepath.Dir(filepath.Clean(commonDir))
}

// CurrentBranch returns the short name of the checked-out branch, or
// an error in detached-HEAD state.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MetadataDir returns the git metadata directory backing the checkout
// at dir. For a primary checkout (where .git is a directory) it
// returns that directory. For a linked worktree (where .git is a file
// containing a "gitdir:" pointer) it returns the primary repository's
// .git directory, two levels above the per-worktree metadata dir:
// the directory the container backend must mount for git to work
// inside the worktree.
func MetadataDir(dir string) (string, error) {
	gitPath := filepath.Join(dir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", fmt.Errorf("no .git at %s: %w", dir, err)
	}
	if info.IsDir() {
		return gitPath, nil
	}

	contents, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("reading gitdir pointer %s: %w", gitPath, err)
	}
	pointed, err := ParseGitdirPointer(string(contents))
	if err != nil {
		return "", fmt.Errorf("parsing gitdir pointer %s: %w", gitPath, err)
	}
	if !filepath.IsAbs(pointed) {
		pointed = filepath.Join(dir, pointed)
	}

	// The pointer targets <main>/.git/worktrees/<name>; the shared
	// metadata lives two levels up at <main>/.git.
	return filepath.Clean(filepath.Join(pointed, "..", "..")), nil
}

// ParseGitdirPointer extracts the target path from the contents of a
// worktree's .git file ("gitdir: /path/to/.git/worktrees/name").
func ParseGitdirPointer(contents string) (string, error) {
	line := strings.TrimSpace(contents)
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", fmt.Errorf("missing %q prefix in %q", prefix, line)
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if target == "" {
		return "", fmt.Errorf("empty gitdir target in %q", line)
	}
	return target, nil
}
