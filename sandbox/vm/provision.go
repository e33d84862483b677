// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

// Phase is one provisioning step run inside the guest after boot.
type Phase struct {
	Name   string
	Script string
	Sudo   bool
}

// systemScript is the first default phase: base packages the later
// phases and the egress filter depend on. Runs as root.
const systemScript = `#!/bin/bash
set -eux
apt-get update
apt-get install -y --no-install-recommends curl ca-certificates git iptables
rm -rf /var/lib/apt/lists/*
`

// agentScript is the second default phase: the agent CLI, the warren
// binary for in-guest RPC forwarding, and the devbox launcher for
// projects that declare a reproducible toolchain. Runs as the guest
// user. Seed files placed in the state directory by the host are
// adopted here.
const agentScript = `#!/bin/bash
set -eux
mkdir -p "$HOME/.local/bin"
curl -fsSL https://claude.ai/install.sh | bash
curl -fsSL https://get.jetify.com/devbox | bash -s -- -f
arch="$(uname -m)"
case "$arch" in
  x86_64) arch=amd64 ;;
  aarch64) arch=arm64 ;;
esac
curl -fsSL "https://github.com/bureau-foundation/warren/releases/latest/download/warren-linux-${arch}" -o "$HOME/.local/bin/warren"
chmod +x "$HOME/.local/bin/warren"
if [ -f "$HOME/.warren-state/.claude.json" ] && [ ! -e "$HOME/.claude.json" ]; then
  cp "$HOME/.warren-state/.claude.json" "$HOME/.claude.json"
fi
`

// ProvisionOptions selects which provisioning phases run.
type ProvisionOptions struct {
	// SkipDefaults drops the built-in system and agent phases,
	// leaving only the custom script. For images prepared out of
	// band.
	SkipDefaults bool

	// UserScript is an optional project-supplied script appended as
	// the final phase, run as the guest user.
	UserScript string
}

// Phases returns the provisioning phases to run, in order.
func Phases(opts ProvisionOptions) []Phase {
	var phases []Phase
	if !opts.SkipDefaults {
		phases = append(phases,
			Phase{Name: "system", Script: systemScript, Sudo: true},
			Phase{Name: "agent", Script: agentScript},
		)
	}
	if opts.UserScript != "" {
		phases = append(phases, Phase{Name: "custom", Script: opts.UserScript})
	}
	return phases
}
