// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/warren/lib/git"
	"github.com/bureau-foundation/warren/sandbox/guest"
)

func TestSpawnFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params addParams
		want   []string
	}{
		{name: "empty", params: addParams{}, want: nil},
		{
			name:   "window name",
			params: addParams{WindowName: "review"},
			want:   []string{"--window-name", "review"},
		},
		{
			name:   "all set",
			params: addParams{WindowName: "review", AutoName: true, Background: true},
			want:   []string{"--window-name", "review", "--auto-name", "--background"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := spawnFlags(tt.params)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("spawnFlags(%+v) = %v, want %v", tt.params, got, tt.want)
			}
		})
	}
}

// TestGuestVerbsOnHost pins the behavior of the workflow verbs when
// the sandbox marker is absent: heartbeat stays silent so agent hooks
// work unchanged on the host, the collaboration verbs report
// themselves unimplemented, and host-exec refuses outright.
func TestGuestVerbsOnHost(t *testing.T) {
	t.Setenv(guest.EnvGuest, "")

	t.Run("heartbeat is a no-op", func(t *testing.T) {
		if err := heartbeatCommand().Execute(nil); err != nil {
			t.Errorf("heartbeat: %v", err)
		}
	})

	t.Run("add is not implemented", func(t *testing.T) {
		err := addCommand().Execute([]string{"fix-auth"})
		if err == nil || !strings.Contains(err.Error(), "not yet implemented") {
			t.Errorf("add error = %v, want not-yet-implemented", err)
		}
	})

	t.Run("merge is not implemented", func(t *testing.T) {
		err := mergeCommand().Execute([]string{"fix-auth"})
		if err == nil || !strings.Contains(err.Error(), "not yet implemented") {
			t.Errorf("merge error = %v, want not-yet-implemented", err)
		}
	})

	t.Run("host-exec requires a session", func(t *testing.T) {
		err := hostExecCommand().Execute([]string{"cargo", "build"})
		if err == nil || !strings.Contains(err.Error(), "sandbox session") {
			t.Errorf("host-exec error = %v, want sandbox-session error", err)
		}
	})

	t.Run("status requires tmux", func(t *testing.T) {
		t.Setenv("TMUX_PANE", "")
		err := statusCommand().Execute([]string{"thinking"})
		if err == nil || !strings.Contains(err.Error(), "TMUX_PANE") {
			t.Errorf("status error = %v, want TMUX_PANE error", err)
		}
	})

	t.Run("title requires text", func(t *testing.T) {
		err := titleCommand().Execute(nil)
		if err == nil || !strings.Contains(err.Error(), "title text is required") {
			t.Errorf("title error = %v, want missing-text error", err)
		}
	})
}

func TestMerge_RequiresBranch(t *testing.T) {
	t.Setenv(guest.EnvGuest, "")

	err := mergeCommand().Execute(nil)
	if err == nil || !strings.Contains(err.Error(), "branch is required") {
		t.Errorf("merge error = %v, want missing-branch error", err)
	}
}

func TestGuestDir(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	repo := git.NewRepository(root)
	if _, err := repo.Run(context.Background(), "init", "--initial-branch=main"); err != nil {
		t.Fatalf("git init: %v", err)
	}
	subdir := filepath.Join(root, "src", "parser")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("worktree root", func(t *testing.T) {
		t.Chdir(root)
		if got := guestDir(); got != "" {
			t.Errorf("guestDir() = %q, want empty at worktree root", got)
		}
	})

	t.Run("subdirectory", func(t *testing.T) {
		t.Chdir(subdir)
		want := filepath.Join("src", "parser")
		if got := guestDir(); got != want {
			t.Errorf("guestDir() = %q, want %q", got, want)
		}
	})

	t.Run("outside any repository", func(t *testing.T) {
		t.Chdir(t.TempDir())
		if got := guestDir(); got != "" {
			t.Errorf("guestDir() = %q, want empty outside a repository", got)
		}
	})
}
