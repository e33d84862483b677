// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestDetectToolchain(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := DetectToolchain(dir); got != ToolchainNone {
		t.Errorf("empty dir: DetectToolchain = %v, want none", got)
	}

	writeFile(t, filepath.Join(dir, "flake.nix"), "{}")
	if got := DetectToolchain(dir); got != ToolchainFlake {
		t.Errorf("flake.nix: DetectToolchain = %v, want flake", got)
	}

	// Devbox wins when both are present.
	writeFile(t, filepath.Join(dir, "devbox.json"), "{}")
	if got := DetectToolchain(dir); got != ToolchainDevbox {
		t.Errorf("devbox.json: DetectToolchain = %v, want devbox", got)
	}
}

func TestToolchainWrapNone(t *testing.T) {
	t.Parallel()

	argv := []string{"make", "test"}
	if got := ToolchainNone.Wrap(argv); !slices.Equal(got, argv) {
		t.Errorf("Wrap = %v, want unchanged %v", got, argv)
	}
}

func TestToolchainWrapDevbox(t *testing.T) {
	t.Parallel()

	got := ToolchainDevbox.Wrap([]string{"make", "test", "VERBOSE=1"})
	if len(got) != 7 || got[0] != "bash" || got[1] != "-c" || got[3] != "--" {
		t.Fatalf("Wrap = %v, want bash -c <script> -- ...", got)
	}
	if !strings.Contains(got[2], "devbox run") || !strings.Contains(got[2], `"$@"`) {
		t.Errorf("script = %q, want devbox run with positional expansion", got[2])
	}
	if got[4] != "make" || got[5] != "test" || got[6] != "VERBOSE=1" {
		t.Errorf("positional args = %v", got[4:])
	}
}

// Arguments must survive wrapping as single argv elements. If the
// wrapper interpolated them into the script, the shell would split and
// re-evaluate them.
func TestToolchainWrapPreservesArguments(t *testing.T) {
	t.Parallel()

	hostile := `hello world; rm -rf "$HOME"`
	got := ToolchainFlake.Wrap([]string{"echo", hostile})
	if !strings.Contains(got[2], "nix develop --command") {
		t.Errorf("script = %q, want nix develop", got[2])
	}
	if got[len(got)-1] != hostile {
		t.Errorf("argument mangled: %q", got[len(got)-1])
	}
	if strings.Contains(got[2], "hello") {
		t.Errorf("argument interpolated into script: %q", got[2])
	}
}

func TestToolchainString(t *testing.T) {
	t.Parallel()

	cases := map[Toolchain]string{
		ToolchainNone:   "none",
		ToolchainDevbox: "devbox",
		ToolchainFlake:  "flake",
	}
	for tc, want := range cases {
		if got := tc.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
