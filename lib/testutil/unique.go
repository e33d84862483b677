// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a short string unique within the test process,
// prefixed for readability. Parallel tests use it to avoid colliding
// on shared namespaces (container names, VM names, state files).
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// UniqueName returns a unique name derived from the test name, for
// namespaces where the test identity is worth preserving in failure
// output.
func UniqueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("%s-%d", t.Name(), uniqueCounter.Add(1))
}
