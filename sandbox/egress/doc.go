// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package egress enforces the sandbox network policy when it is set to
// deny: guests reach the network only through a host-side CONNECT
// proxy that admits TLS to allowlisted domains and nothing else.
//
// The proxy is deliberately narrow. It speaks plain HTTP CONNECT on a
// loopback address reachable from the guest, requires the session
// token as proxy credentials, and tunnels only to port 443 of domains
// the allowlist names. Requests by IP literal are refused, and after
// resolution every address must fall outside loopback, private,
// link-local, CGNAT, and unique-local ranges, so a DNS record cannot
// steer an allowlisted name at the host's own services.
//
// Refusals are silent: the connection closes without a response. An
// error page would tell a prompt-injected agent which domains exist in
// the allowlist; a closed socket tells it nothing.
//
// Domain patterns are exact names or single-label wildcards of the
// form "*.example.com". A wildcard matches any subdomain but never the
// bare suffix, so "*.github.com" admits "api.github.com" and not
// "github.com" itself.
package egress
