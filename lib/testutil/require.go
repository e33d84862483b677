// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"testing"
	"time"
)

// waitTimeout bounds every blocking helper in this package. Long
// enough for heavily loaded CI machines, short enough that a hung
// test fails before the suite deadline.
const waitTimeout = 5 * time.Second

// RequireReceive receives a value from ch or fails the test after the
// package timeout. The description names what was expected, for the
// failure message.
func RequireReceive[T any](t *testing.T, ch <-chan T, description string) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting to receive %s", description)
		panic("unreachable")
	}
}

// RequireSend sends a value to ch or fails the test after the package
// timeout.
func RequireSend[T any](t *testing.T, ch chan<- T, value T, description string) {
	t.Helper()
	select {
	case ch <- value:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting to send %s", description)
	}
}

// RequireClosed waits for ch to be closed (discarding any buffered
// values) or fails the test after the package timeout.
func RequireClosed[T any](t *testing.T, ch <-chan T, description string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to close", description)
		}
	}
}
