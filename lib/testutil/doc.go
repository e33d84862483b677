// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Warren packages:
// bounded channel operations (RequireReceive, RequireSend,
// RequireClosed) that convert hangs into test failures, and unique
// identifiers for parallel tests that share a namespace.
package testutil
