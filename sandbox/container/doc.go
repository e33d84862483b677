// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package container runs sandboxed agents in OCI containers.
//
// The package does not manage long-lived containers. A session's
// container is the pane command: the multiplexer pane runs "docker run
// --rm" (or podman) directly, the agent is the container's PID 1, and
// closing the pane tears everything down. What lives here is the
// machinery around that invocation: engine detection, the argument
// builder that mirrors the worktree and wires the control-channel
// environment, and the image freshness check that decides when to pull.
//
// The worktree is bind-mounted at its host path, not relocated. Paths
// in build output, logs, and editor jumps then mean the same thing on
// both sides of the boundary. A linked git worktree also gets the
// repository's metadata directory mounted read-only, since its .git
// file points back at a directory outside the worktree.
package container
