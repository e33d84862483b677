// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package egress

import (
	"fmt"
	"strings"
)

// Allowlist holds the domain patterns a deny-policy sandbox may reach.
type Allowlist struct {
	exact     map[string]bool
	wildcards []string // stored as the suffix after "*.", e.g. "github.com"
}

// NewAllowlist builds an allowlist from patterns. Each pattern is an
// exact domain name or a wildcard "*.suffix". Patterns are matched
// case-insensitively; a trailing dot on either side is ignored.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	a := &Allowlist{exact: make(map[string]bool)}
	for _, pattern := range patterns {
		normalized := normalizeDomain(pattern)
		if normalized == "" {
			return nil, fmt.Errorf("empty domain pattern")
		}
		if suffix, ok := strings.CutPrefix(normalized, "*."); ok {
			if suffix == "" || strings.Contains(suffix, "*") {
				return nil, fmt.Errorf("invalid wildcard pattern: %q", pattern)
			}
			a.wildcards = append(a.wildcards, suffix)
			continue
		}
		if strings.Contains(normalized, "*") {
			return nil, fmt.Errorf("wildcard only allowed as leading label: %q", pattern)
		}
		a.exact[normalized] = true
	}
	return a, nil
}

// Len returns the number of patterns in the allowlist.
func (a *Allowlist) Len() int {
	return len(a.exact) + len(a.wildcards)
}

// Match reports whether host is admitted. A wildcard "*.suffix"
// matches "name.suffix" and deeper subdomains, never "suffix" alone:
// allowing the API subdomains of a service is not the same as allowing
// the service's apex and whatever it hosts there.
func (a *Allowlist) Match(host string) bool {
	normalized := normalizeDomain(host)
	if normalized == "" {
		return false
	}
	if a.exact[normalized] {
		return true
	}
	for _, suffix := range a.wildcards {
		if strings.HasSuffix(normalized, "."+suffix) {
			return true
		}
	}
	return false
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}
