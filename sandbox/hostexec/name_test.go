// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	valid := []string{
		"make",
		"go",
		"a",
		"A1",
		"afplay",
		"git-lfs",
		"python3.11",
		"node_modules",
		"x" + strings.Repeat("y", 63),
	}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"",
		".",
		"..",
		".hidden",
		"-flag",
		"_shim",
		"../etc/passwd",
		"/bin/sh",
		"a/b",
		"rm;ls",
		"rm&&ls",
		"$(id)",
		"a b",
		"café",
		"x" + strings.Repeat("y", 64),
	}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	allowlist := []string{"make", "cargo"}
	if !Allowed("make", allowlist) {
		t.Error("listed command rejected")
	}
	if Allowed("rm", allowlist) {
		t.Error("unlisted command allowed")
	}
	if !Allowed("afplay", nil) {
		t.Error("builtin rejected with empty allowlist")
	}
	if Allowed("make", nil) {
		t.Error("non-builtin allowed with empty allowlist")
	}
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	names := Builtins()
	found := false
	for _, name := range names {
		if name == "afplay" {
			found = true
		}
		if err := ValidateName(name); err != nil {
			t.Errorf("builtin %q fails validation: %v", name, err)
		}
	}
	if !found {
		t.Errorf("Builtins() = %v, missing afplay", names)
	}
}
