// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source. The Clock
// interface covers the subset of the time package Warren's
// time-dependent code paths use (freshness TTLs, heartbeat ages,
// retry backoff); Real() delegates to the time package, Fake()
// provides deterministic control for tests via Advance and
// WaitForTimers.
package clock
