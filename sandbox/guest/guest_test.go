// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"reflect"
	"strings"
	"testing"
)

// These tests mutate the process environment, so none of them run in
// parallel.

func clearGuestEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvGuest, EnvRPCHost, EnvRPCPort, EnvRPCToken} {
		t.Setenv(name, "")
		// t.Setenv registers restoration; empty means unset for our
		// non-empty checks.
	}
}

func TestInSandbox(t *testing.T) {
	clearGuestEnv(t)
	if InSandbox() {
		t.Error("InSandbox = true without the marker")
	}
	t.Setenv(EnvGuest, "1")
	if !InSandbox() {
		t.Error("InSandbox = false with the marker set")
	}
}

func TestEnviron(t *testing.T) {
	got := Environ("host.lima.internal", 43210, "deadbeef")
	want := []string{
		"WARREN_SANDBOX_GUEST=1",
		"WARREN_RPC_HOST=host.lima.internal",
		"WARREN_RPC_PORT=43210",
		"WARREN_RPC_TOKEN=deadbeef",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Environ = %v, want %v", got, want)
	}
}

func TestNewClientFromEnviron(t *testing.T) {
	clearGuestEnv(t)
	for _, entry := range Environ("127.0.0.1", 43210, "deadbeef") {
		name, value, _ := strings.Cut(entry, "=")
		t.Setenv(name, value)
	}
	if _, err := NewClient(); err != nil {
		t.Fatalf("NewClient with full environment: %v", err)
	}
}

func TestNewClientMissingEnv(t *testing.T) {
	clearGuestEnv(t)
	if _, err := NewClient(); err == nil {
		t.Fatal("NewClient succeeded without environment")
	}

	t.Setenv(EnvRPCHost, "127.0.0.1")
	t.Setenv(EnvRPCPort, "not-a-port")
	t.Setenv(EnvRPCToken, "deadbeef")
	_, err := NewClient()
	if err == nil || !strings.Contains(err.Error(), "not a valid port") {
		t.Errorf("bad port error = %v", err)
	}
}
