// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the bridge protocol between a sandboxed
// guest and its host supervisor.
//
// The transport is a TCP connection carrying newline-delimited JSON.
// Every request is one line: {"token": "...", "verb": "...",
// "payload": {...}}. Every response is one line: {"ok": true,
// "result": {...}} or {"ok": false, "error": "..."}. The exec verb is
// the one streaming case: the server emits any number of output
// result frames ({"stream": "stdout"|"stderr", "data": "..."}) before
// a terminal frame carrying {"exit_code": N}.
//
// Requests on one connection are handled strictly in order. A
// streaming exec therefore occupies its connection until the terminal
// frame; guests that want concurrent host commands open independent
// connections. This is a deliberate protocol property, not a
// limitation of the server implementation.
//
// Security posture: the server sits on a trust boundary. The peer is
// a workload that is sandboxed precisely because it may be
// compromised. Accordingly: every request carries the per-session
// token, compared in constant time before any dispatch; lines over
// MaxMessageSize are rejected without being parsed; unauthenticated
// connections get a short read deadline so an idle or stalling guest
// cannot pin server resources; the accept loop is rate limited and
// the concurrent connection count is capped.
package rpc
