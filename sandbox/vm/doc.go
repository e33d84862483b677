// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vm implements the persistent VM sandbox backend on top of
// Lima. Unlike the container backend, which tears down with the pane
// process, a VM outlives any single session: the first session for an
// isolation scope creates and provisions it, later sessions reuse it,
// and only an explicit `warren vm delete` or `warren vm prune`
// destroys it.
//
// The package keeps its own registry of VM records (one CBOR file per
// VM under the state directory) instead of trusting `limactl list` as
// ground truth. limactl reports what exists right now; the registry
// remembers what warren created, with which resources, and whether
// provisioning ever completed. The two views are reconciled in
// Manager.Ensure: limactl decides whether to create or start,
// the registry decides whether to provision.
//
// Provisioning runs through `limactl shell` after boot rather than
// through Lima's own provision blocks. Lima runs those only on first
// boot, so a failure there would leave a half-configured VM that never
// retries. Running the phases ourselves lets a provisioning failure
// leave the record unprovisioned and the VM stopped; the next session
// boots it and retries the phases.
//
// Mounts are fixed at creation time in the generated Lima
// configuration. Changing mount-relevant configuration (isolation,
// projects dir, extra mounts) requires deleting the VM.
package vm
