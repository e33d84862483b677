// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs agent sessions inside an isolation boundary
// while keeping a narrow, authenticated channel back to the host.
//
// A sandboxed session puts the agent process in a guest (an ephemeral
// container or a persistent Lima VM) with the worktree mounted
// read-write and everything else withheld: no host secrets, no tmux
// socket, no ability to run arbitrary host commands. The host side of
// the session is the Supervisor, which owns the guest's lifecycle and
// serves the control channel the guest uses for the few operations
// that must happen outside the boundary: pane status and title
// updates, liveness heartbeats, spawning sibling workspaces, merging,
// and running operator-allowlisted host commands.
//
// Configuration is two-scope. A global file under the user's config
// directory applies everywhere; a project file at the repository root
// travels with the checkout. Because the project file is repository
// content, fields that widen the boundary (the image, the host
// command allowlist, network policy, the guest-visible RPC host) are
// global-only: a merge-time filter drops them from project scope with
// a logged warning before values are combined. Resolve validates the
// merged result into a ResolvedConfig that the rest of the package
// consumes.
//
// The two backends share the Session/Backend seam. The container
// backend builds a `docker run` (or podman) invocation per session;
// the VM backend ensures a per-project or shared Lima instance exists
// and is provisioned, then enters it with `limactl shell`. Both inject
// the same guest environment: a sandbox marker, the control channel
// coordinates, and a bearer token minted per session.
package sandbox
