// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package egress

import "net/netip"

// cgnat is the carrier-grade NAT range (RFC 6598). Tailscale and
// similar overlays hand out addresses here, so a resolved name landing
// in it would reach the host's private mesh.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// uniqueLocal is the IPv6 unique local address block (RFC 4193).
var uniqueLocal = netip.MustParsePrefix("fc00::/7")

// BlockedAddr reports whether a resolved address must not be dialed on
// behalf of a guest. Everything that lands on the host, its LAN, or a
// private overlay is blocked; tunneling is for the public internet
// only. IPv4-mapped IPv6 addresses are unmapped first so "::ffff:"
// prefixing cannot smuggle a private IPv4 address past the checks.
func BlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid():
		return true
	case addr.IsUnspecified():
		return true
	case addr.IsLoopback():
		return true
	case addr.IsPrivate():
		return true
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return true
	case addr.IsMulticast():
		return true
	case cgnat.Contains(addr):
		return true
	case uniqueLocal.Contains(addr):
		return true
	}
	return false
}
