// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Session is the immutable description of one sandboxed guest
// session, assembled by the Supervisor before the backend starts.
// Backends read it; nothing mutates it after Start.
type Session struct {
	// Workspace is the workspace name, used for spawn and merge
	// context and log attribution.
	Workspace string

	// Worktree is the absolute worktree root. It is the guest's
	// writable project surface and the confinement root for host
	// command working directories.
	Worktree string

	// Dir is the command's working directory, inside Worktree.
	Dir string

	// PaneID addresses the pane this session drives, for status and
	// title updates.
	PaneID string

	// Agent selects the credential store mounted into the guest,
	// for example "claude".
	Agent string

	// Command is the guest argv, already toolchain-wrapped when a
	// project environment applies.
	Command []string

	// Interactive allocates a terminal in the guest.
	Interactive bool

	// Token authenticates every control-channel request.
	Token string

	// RPCPort is the host port of the control channel listener.
	RPCPort int

	// ProxyToken and ProxyPort describe the egress proxy; ProxyPort
	// is zero when the session runs under the allow policy.
	ProxyToken string
	ProxyPort  int

	// Env is extra guest environment (passthrough variables), as
	// KEY=VALUE pairs in injection order.
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewToken mints a session bearer token: 256 bits from crypto/rand,
// hex encoded.
func NewToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}
