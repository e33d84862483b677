// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"fmt"
	"regexp"
	"sort"
)

// namePattern accepts bare command names only: it must start with an
// alphanumeric and may continue with alphanumerics, dots, underscores,
// and hyphens, up to 64 characters total. Path separators, spaces, and
// shell metacharacters cannot match, so a name that passes can never
// escape the allowlist by traversal or injection.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// builtins are host commands every sandbox may request without the
// operator listing them. They are interaction affordances with no
// file-system reach of their own.
var builtins = map[string]bool{
	"afplay": true,
}

// ValidateName checks that name is a plausible bare command name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid command name: %q", name)
	}
	return nil
}

// Allowed reports whether name may be executed given the configured
// allowlist. The name must already have passed ValidateName.
func Allowed(name string, allowlist []string) bool {
	if builtins[name] {
		return true
	}
	for _, entry := range allowlist {
		if entry == name {
			return true
		}
	}
	return false
}

// Builtins returns the built-in command names in sorted order.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
