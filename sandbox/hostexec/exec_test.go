// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

// testRunner builds a Runner with the jail tools reported missing, so
// commands run directly and the tests work on hosts without bwrap or
// sandbox-exec installed.
func testRunner(t *testing.T, allowlist ...string) *Runner {
	t.Helper()
	home := t.TempDir()
	return &Runner{
		Allowlist: allowlist,
		Worktree:  t.TempDir(),
		Home:      home,
		Environ:   []string{"PATH=" + os.Getenv("PATH"), "HOME=" + home},
		LookPath: func(string) (string, error) {
			return "", errors.New("not installed")
		},
	}
}

func TestRunInvalidName(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	r := testRunner(t)
	code, err := r.Run(context.Background(), Request{Command: "../etc/passwd"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != ExitNotAllowed {
		t.Errorf("code = %d, want %d", code, ExitNotAllowed)
	}
	if !strings.Contains(stderr.String(), "invalid command name") {
		t.Errorf("stderr = %q, want invalid command diagnostic", stderr.String())
	}
}

func TestRunNotAllowed(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	r := testRunner(t)
	code, err := r.Run(context.Background(), Request{Command: "ls"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != ExitNotAllowed {
		t.Errorf("code = %d, want %d", code, ExitNotAllowed)
	}
	if !strings.Contains(stderr.String(), "command not allowed: ls") {
		t.Errorf("stderr = %q, want not-allowed diagnostic", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
}

func TestRunStreamsOutput(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	r := testRunner(t, "sh")
	req := Request{Command: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}}
	code, err := r.Run(context.Background(), req, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
	if got := stdout.String(); got != "out\n" {
		t.Errorf("stdout = %q, want %q", got, "out\n")
	}
	if got := stderr.String(); got != "err\n" {
		t.Errorf("stderr = %q, want %q", got, "err\n")
	}
}

func TestRunDefaultsDirToWorktree(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	r := testRunner(t, "pwd")
	code, err := r.Run(context.Background(), Request{Command: "pwd"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("code = %d, stderr = %q", code, stderr.String())
	}
	// Resolve symlinks: on darwin TMPDIR lives under /var -> /private/var.
	got := strings.TrimSpace(stdout.String())
	want, err := filepath.EvalSymlinks(r.Worktree)
	if err != nil {
		t.Fatal(err)
	}
	gotResolved, err := filepath.EvalSymlinks(got)
	if err != nil {
		t.Fatal(err)
	}
	if gotResolved != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestRunStartFailure(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	r := testRunner(t, "warren-test-absent")
	code, err := r.Run(context.Background(), Request{Command: "warren-test-absent"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != ExitStartFailure {
		t.Errorf("code = %d, want %d", code, ExitStartFailure)
	}
	if !strings.Contains(stderr.String(), "failed to start warren-test-absent") {
		t.Errorf("stderr = %q, want start failure diagnostic", stderr.String())
	}
}

func TestRunSanitizesEnvironment(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	r := testRunner(t, "sh")
	r.Environ = append(r.Environ, "LEAKED_TOKEN=abc123")
	req := Request{Command: "sh", Args: []string{"-c", "echo ${LEAKED_TOKEN:-clean}"}}
	code, err := r.Run(context.Background(), req, &stdout, &stderr)
	if err != nil || code != 0 {
		t.Fatalf("code = %d, err = %v, stderr = %q", code, err, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "clean" {
		t.Errorf("LEAKED_TOKEN visible to child: %q", got)
	}
}

func TestRunCancelKillsProcess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	var stdout, stderr bytes.Buffer
	r := testRunner(t, "sh")
	start := time.Now()
	req := Request{Command: "sh", Args: []string{"-c", "sleep 30"}}
	code, err := r.Run(ctx, req, &stdout, &stderr)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("run survived cancellation for %v", elapsed)
	}
	// The child dies by SIGKILL; depending on timing the result is
	// either the signal exit code or the context error.
	if err == nil && code != 137 {
		t.Errorf("code = %d, want 137 (128+SIGKILL)", code)
	}
}

func TestRunDegradesWithWarning(t *testing.T) {
	t.Parallel()

	var logbuf bytes.Buffer
	var stdout, stderr bytes.Buffer
	r := testRunner(t, "true")
	r.Logger = slog.New(slog.NewTextHandler(&logbuf, nil))
	code, err := r.Run(context.Background(), Request{Command: "true"}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("code = %d, stderr = %q", code, stderr.String())
	}
	if !strings.Contains(logbuf.String(), "without a jail") {
		t.Errorf("log = %q, want degrade warning", logbuf.String())
	}
}

func TestRunRecordsAudit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	audit := NewAudit(filepath.Join(dir, "audit.log"), clock.Fake(time.Unix(1700000000, 0)))

	var stdout, stderr bytes.Buffer
	r := testRunner(t, "true")
	r.Audit = audit

	if _, err := r.Run(context.Background(), Request{Command: "true"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), Request{Command: "rm"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadAudit(audit.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Command != "true" || entries[0].Denied || entries[0].Exit != 0 {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Command != "rm" || !entries[1].Denied || entries[1].Exit != ExitNotAllowed {
		t.Errorf("second entry = %+v", entries[1])
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Errorf("entry IDs not unique: %q, %q", entries[0].ID, entries[1].ID)
	}
}
