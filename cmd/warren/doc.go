// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Warren is the CLI for sandboxed agent workspaces. It provides
// subcommands for running sessions (run), managing the VMs behind the
// vm backend (vm list, stop, delete, prune), inspecting configuration
// and tooling (sandbox status, doctor), and the workflow verbs that
// guests forward over the session control channel (status, title,
// heartbeat, add, merge, host-exec).
package main
