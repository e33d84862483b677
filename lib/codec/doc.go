// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for Warren's
// on-disk state: VM registry records and the image freshness cache.
// Deterministic encoding means byte-identical output for unchanged
// state, which keeps atomic rewrite-and-rename cheap to reason about
// and makes state files diffable in tests.
package codec
