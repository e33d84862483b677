// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostexec runs allowlisted commands on the host on behalf of a
// sandboxed guest.
//
// Agents inside a container or VM sometimes need a command that only
// exists on the host: a GUI merge tool, a notification sound, a
// license-bound compiler. The guest asks for it over RPC by bare name;
// this package decides whether the request is acceptable and, if so,
// runs it with as little of the host's ambient state as possible.
//
// Every request passes through the same pipeline:
//
//  1. Name validation. The requested name must match a conservative
//     pattern (no slashes, no shell metacharacters, no leading dot or
//     dash). Anything else exits 127 before any lookup happens.
//  2. Allowlist check. The name must appear in the operator-configured
//     allowlist or the built-in set. Unknown names exit 127.
//  3. Environment sanitation. The child sees a fixed set of variables
//     copied from the host, with PATH reduced to absolute entries.
//  4. Toolchain wrapping. If the worktree carries a devbox or Nix
//     flake configuration, the command runs through that toolchain so
//     it sees the project's tools rather than the host's.
//  5. Jailing. On Linux the command runs under bwrap with a read-only
//     root, tmpfs over credential directories, and write access only
//     to the worktree and a few cache paths. On macOS sandbox-exec
//     applies an equivalent deny profile. If the jail tool is missing
//     the command still runs, with a logged warning.
//
// Rejections are reported the way a shell reports them: a diagnostic
// on stderr and exit code 127 (or 126 when the process cannot be
// started). They are results, not errors; the RPC layer forwards them
// to the guest unchanged.
package hostexec
