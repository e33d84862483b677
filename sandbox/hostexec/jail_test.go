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

// jailFixture builds a fake home with some of the profile's paths
// present, so the builders have concrete paths to cover.
func jailFixture(t *testing.T) *JailOptions {
	t.Helper()
	home := t.TempDir()
	worktree := t.TempDir()

	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(home, ".cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(home, ".netrc"), "machine example.com\n")

	return &JailOptions{
		Profile:  DefaultProfile(),
		Home:     home,
		Worktree: worktree,
		Dir:      worktree,
		Env:      []string{"PATH=/usr/bin:/bin", "HOME=" + home},
		Command:  []string{"make", "test"},
	}
}

// argSeq reports whether args contains seq as a contiguous run.
func argSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		if slices.Equal(args[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}

func TestBwrapArgs(t *testing.T) {
	t.Parallel()

	opts := jailFixture(t)
	args, err := BwrapArgs(opts)
	if err != nil {
		t.Fatal(err)
	}

	if args[0] != "bwrap" {
		t.Fatalf("args[0] = %q, want bwrap", args[0])
	}
	checks := [][]string{
		{"--die-with-parent"},
		{"--new-session"},
		{"--unshare-pid"},
		{"--ro-bind", "/", "/"},
		{"--proc", "/proc"},
		{"--dev", "/dev"},
		{"--tmpfs", "/tmp"},
		{"--tmpfs", filepath.Join(opts.Home, ".ssh")},
		{"--bind", "/dev/null", filepath.Join(opts.Home, ".netrc")},
		{"--bind", opts.Worktree, opts.Worktree},
		{"--bind", filepath.Join(opts.Home, ".cache"), filepath.Join(opts.Home, ".cache")},
		{"--clearenv"},
		{"--setenv", "PATH", "/usr/bin:/bin"},
		{"--chdir", opts.Dir},
		{"--", "make", "test"},
	}
	for _, seq := range checks {
		if !argSeq(args, seq...) {
			t.Errorf("args missing %v\nargs: %v", seq, args)
		}
	}

	// Paths that do not exist in the fake home are not covered.
	if argSeq(args, "--tmpfs", filepath.Join(opts.Home, ".aws")) {
		t.Error("nonexistent .aws covered by tmpfs")
	}

	// The command comes last, after the separator.
	if !slices.Equal(args[len(args)-3:], []string{"--", "make", "test"}) {
		t.Errorf("tail = %v, want command after separator", args[len(args)-3:])
	}
}

func TestBwrapArgsValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts JailOptions
	}{
		{"no profile", JailOptions{Worktree: "/w", Command: []string{"x"}}},
		{"no worktree", JailOptions{Profile: DefaultProfile(), Command: []string{"x"}}},
		{"no command", JailOptions{Profile: DefaultProfile(), Worktree: "/w"}},
	}
	for _, tc := range cases {
		if _, err := BwrapArgs(&tc.opts); err == nil {
			t.Errorf("%s: BwrapArgs accepted invalid options", tc.name)
		}
	}
}

func TestSeatbeltArgs(t *testing.T) {
	t.Parallel()

	opts := jailFixture(t)
	args, err := SeatbeltArgs(opts)
	if err != nil {
		t.Fatal(err)
	}
	if args[0] != "sandbox-exec" || args[1] != "-p" {
		t.Fatalf("args = %v, want sandbox-exec -p ...", args[:2])
	}
	if !slices.Equal(args[3:], []string{"make", "test"}) {
		t.Errorf("command tail = %v", args[3:])
	}

	profile := args[2]
	for _, want := range []string{
		"(version 1)",
		"(allow default)",
		"(deny file-write*)",
		`(subpath "` + opts.Worktree + `")`,
		`(subpath "` + filepath.Join(opts.Home, ".ssh") + `")`,
		`(literal "` + filepath.Join(opts.Home, ".netrc") + `")`,
	} {
		if !strings.Contains(profile, want) {
			t.Errorf("profile missing %s\nprofile:\n%s", want, profile)
		}
	}

	// Read denials must come after the write allowance: in Seatbelt
	// the last matching rule wins.
	writeAllow := strings.Index(profile, "(allow file-write*")
	readDeny := strings.Index(profile, "(deny file-read*")
	if writeAllow == -1 || readDeny == -1 || readDeny < writeAllow {
		t.Errorf("rule order wrong: allow file-write* at %d, deny file-read* at %d", writeAllow, readDeny)
	}
}

func TestSeatbeltQuote(t *testing.T) {
	t.Parallel()

	got := seatbeltQuote(`/Users/o'brien/My "Stuff"\cache`)
	want := `"/Users/o'brien/My \"Stuff\"\\cache"`
	if got != want {
		t.Errorf("seatbeltQuote = %s, want %s", got, want)
	}
}
