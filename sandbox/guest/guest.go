// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package guest detects the sandbox guest environment. The supervisor
// injects a marker variable plus the RPC endpoint and token into every
// sandboxed session; the warren binary inside the guest checks the
// marker to decide between direct host operations and RPC forwarding.
package guest

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bureau-foundation/warren/sandbox/rpc"
)

// Environment variables injected into sandboxed sessions.
const (
	// EnvGuest marks a process as running inside a sandbox guest.
	// Any non-empty value counts.
	EnvGuest = "WARREN_SANDBOX_GUEST"

	// EnvRPCHost and EnvRPCPort locate the supervisor's RPC listener
	// from inside the guest (host.lima.internal or
	// host.docker.internal, never an address the guest could reach
	// otherwise).
	EnvRPCHost = "WARREN_RPC_HOST"
	EnvRPCPort = "WARREN_RPC_PORT"

	// EnvRPCToken carries the per-session token.
	EnvRPCToken = "WARREN_RPC_TOKEN"
)

// InSandbox reports whether this process runs inside a sandbox guest.
func InSandbox() bool {
	return os.Getenv(EnvGuest) != ""
}

// Environ returns the environment entries the supervisor injects into
// a sandboxed session.
func Environ(host string, port int, token string) []string {
	return []string{
		EnvGuest + "=1",
		EnvRPCHost + "=" + host,
		EnvRPCPort + "=" + strconv.Itoa(port),
		EnvRPCToken + "=" + token,
	}
}

// NewClient builds an RPC client from the injected environment.
func NewClient() (*rpc.Client, error) {
	host := os.Getenv(EnvRPCHost)
	if host == "" {
		return nil, fmt.Errorf("%s is not set (not inside a warren sandbox?)", EnvRPCHost)
	}
	portValue := os.Getenv(EnvRPCPort)
	if portValue == "" {
		return nil, fmt.Errorf("%s is not set", EnvRPCPort)
	}
	port, err := strconv.Atoi(portValue)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%s=%q is not a valid port", EnvRPCPort, portValue)
	}
	token := os.Getenv(EnvRPCToken)
	if token == "" {
		return nil, fmt.Errorf("%s is not set", EnvRPCToken)
	}
	return rpc.NewClient(host, port, token), nil
}
