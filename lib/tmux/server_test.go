// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/warren/lib/testutil"
)

// newTestServer starts a dedicated tmux server with one session and
// returns it along with the session's pane target. The server is
// killed when the test completes.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}

	socket := filepath.Join(testutil.SocketDir(t), "tmux.sock")
	server := NewServer(socket)
	session := testutil.UniqueID("wn-test")
	if err := server.NewSession(session, "sleep", "60"); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = server.KillServer() })
	return server, session + ":0.0"
}

func TestSetPaneTitle(t *testing.T) {
	t.Parallel()

	server, pane := newTestServer(t)
	if err := server.SetPaneTitle(pane, "agent: reviewing"); err != nil {
		t.Fatalf("SetPaneTitle: %v", err)
	}

	title, err := server.PaneTitle(pane)
	if err != nil {
		t.Fatalf("PaneTitle: %v", err)
	}
	if title != "agent: reviewing" {
		t.Errorf("PaneTitle = %q, want %q", title, "agent: reviewing")
	}
}

func TestSetPaneStatusRoundTrip(t *testing.T) {
	t.Parallel()

	server, pane := newTestServer(t)
	if err := server.SetPaneStatus(pane, "building"); err != nil {
		t.Fatalf("SetPaneStatus: %v", err)
	}

	status, err := server.PaneStatus(pane)
	if err != nil {
		t.Fatalf("PaneStatus: %v", err)
	}
	if status != "building" {
		t.Errorf("PaneStatus = %q, want %q", status, "building")
	}

	// Clearing removes the option entirely.
	if err := server.SetPaneStatus(pane, ""); err != nil {
		t.Fatalf("SetPaneStatus(clear): %v", err)
	}
	status, err = server.PaneStatus(pane)
	if err != nil {
		t.Fatalf("PaneStatus after clear: %v", err)
	}
	if status != "" {
		t.Errorf("PaneStatus after clear = %q, want empty", status)
	}
}

func TestHasSession(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	if server.HasSession("definitely-not-created") {
		t.Error("HasSession reported a session that does not exist")
	}
}
