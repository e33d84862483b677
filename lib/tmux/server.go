// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux provides a typed interface to tmux servers. Warren
// updates pane titles and status indicators on behalf of sandboxed
// guests: a guest's SetStatus/SetTitle RPC lands here, so the
// operator sees agent state in the multiplexer without the guest
// touching the host terminal directly.
//
// The central type is Server, which represents a connection to a tmux
// server identified by its Unix socket path. All tmux commands go
// through Server, which injects the -S flag automatically. An empty
// socket path targets the user's default tmux server; panes Warren
// annotates live in the user's own session, unlike a dedicated
// orchestration server.
package tmux

import (
	"fmt"
	"os/exec"
	"strings"
)

// StatusOption is the tmux user option Warren stores a pane's status
// text under. Status lines render it with #{@warren_status}.
const StatusOption = "@warren_status"

// Server represents a tmux server. With a non-empty socketPath all
// commands target that specific server via -S; with an empty
// socketPath they target the user's default server.
type Server struct {
	socketPath string
}

// NewServer returns a Server that targets the given socket path. Pass
// "" for the user's default server.
func NewServer(socketPath string) *Server {
	return &Server{socketPath: socketPath}
}

// SocketPath returns the Unix socket path that identifies this server,
// or "" for the default server.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// run executes a tmux command against this server. Combined output is
// included in error messages because tmux writes diagnostics to both
// streams depending on the subcommand.
func (s *Server) run(args ...string) (string, error) {
	var full []string
	if s.socketPath != "" {
		full = append(full, "-S", s.socketPath)
	}
	full = append(full, args...)
	output, err := exec.Command("tmux", full...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// SetPaneTitle sets the title of a pane. The pane is identified by a
// tmux pane id ("%12") or any target-pane syntax tmux accepts.
func (s *Server) SetPaneTitle(pane, title string) error {
	_, err := s.run("select-pane", "-t", pane, "-T", title)
	return err
}

// SetPaneStatus stores status text in the pane's StatusOption user
// option. An empty status clears the option so status-line formats
// fall back to their default rendering.
func (s *Server) SetPaneStatus(pane, status string) error {
	if status == "" {
		_, err := s.run("set-option", "-p", "-t", pane, "-u", StatusOption)
		return err
	}
	_, err := s.run("set-option", "-p", "-t", pane, StatusOption, status)
	return err
}

// PaneStatus reads back the pane's StatusOption value. Returns "" if
// the option is unset. User options keep their @ prefix inside format
// strings: #{@warren_status}.
func (s *Server) PaneStatus(pane string) (string, error) {
	out, err := s.run("display-message", "-p", "-t", pane, "#{"+StatusOption+"}")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// PaneTitle reads back a pane's title.
func (s *Server) PaneTitle(pane string) (string, error) {
	out, err := s.run("display-message", "-p", "-t", pane, "#{pane_title}")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// NewSession creates a detached session on this server, running
// command if non-empty. Used by tests to stand up panes to annotate;
// production panes are created by the orchestrator, not this package.
//
// -f /dev/null prevents loading the user's tmux.conf, which could
// redefine options and break assertions.
func (s *Server) NewSession(sessionName string, command ...string) error {
	args := []string{"-f", "/dev/null"}
	if s.socketPath != "" {
		args = append(args, "-S", s.socketPath)
	}
	args = append(args, "new-session", "-d", "-s", sessionName)
	args = append(args, command...)
	output, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux new-session %q: %w (%s)",
			sessionName, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HasSession reports whether a session with the given name exists on
// this server.
func (s *Server) HasSession(sessionName string) bool {
	_, err := s.run("has-session", "-t", "="+sessionName)
	return err == nil
}

// KillServer terminates the tmux server and all its sessions. Benign
// when the server is already gone.
func (s *Server) KillServer() error {
	_, err := s.run("kill-server")
	if err != nil && strings.Contains(err.Error(), "no server running") {
		return nil
	}
	return err
}
