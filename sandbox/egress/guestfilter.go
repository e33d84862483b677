// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package egress

import (
	"fmt"
	"net/netip"
	"strings"
)

// ClientURL returns the proxy URL guests put in HTTPS_PROXY. The
// address is the proxy's listen address as reachable from the guest.
func ClientURL(address, token string) string {
	return fmt.Sprintf("http://%s:%s@%s", proxyUser, token, address)
}

// RenderGuestRules returns a shell script that restricts a guest's
// outbound traffic to the given host endpoints (the RPC listener and
// the proxy). Everything else is dropped, including DNS: with all
// egress funneled through CONNECT, the guest has nothing to resolve.
// The script runs inside the VM as root at session start, since the
// endpoints carry per-session ports.
func RenderGuestRules(allowed []netip.AddrPort) string {
	var v4, v6 []netip.AddrPort
	for _, endpoint := range allowed {
		if endpoint.Addr().Unmap().Is4() {
			v4 = append(v4, endpoint)
		} else {
			v6 = append(v6, endpoint)
		}
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by warren. Locks guest egress to the session endpoints.\n")
	b.WriteString("set -eu\n")
	writeFilterRules(&b, "iptables", v4)
	writeFilterRules(&b, "ip6tables", v6)
	return b.String()
}

func writeFilterRules(b *strings.Builder, tool string, allowed []netip.AddrPort) {
	fmt.Fprintf(b, "\n%s -F OUTPUT\n", tool)
	fmt.Fprintf(b, "%s -A OUTPUT -o lo -j ACCEPT\n", tool)
	fmt.Fprintf(b, "%s -A OUTPUT -m conntrack --ctstate ESTABLISHED,RELATED -j ACCEPT\n", tool)
	for _, endpoint := range allowed {
		fmt.Fprintf(b, "%s -A OUTPUT -p tcp -d %s --dport %d -j ACCEPT\n",
			tool, endpoint.Addr().Unmap().String(), endpoint.Port())
	}
	fmt.Fprintf(b, "%s -P OUTPUT DROP\n", tool)
}

// RenderResetRules returns a script that restores unrestricted guest
// egress. A VM keeps its filter across sessions, so a session running
// under the allow policy applies this to undo an earlier lockdown.
func RenderResetRules() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by warren. Restores unrestricted guest egress.\n")
	b.WriteString("set -eu\n")
	for _, tool := range []string{"iptables", "ip6tables"} {
		fmt.Fprintf(&b, "\n%s -P OUTPUT ACCEPT\n", tool)
		fmt.Fprintf(&b, "%s -F OUTPUT\n", tool)
	}
	return b.String()
}
