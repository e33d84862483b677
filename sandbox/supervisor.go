// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/sandbox/egress"
	"github.com/bureau-foundation/warren/sandbox/hostexec"
	"github.com/bureau-foundation/warren/sandbox/rpc"
)

// teardownTimeout bounds backend cleanup after the guest exits. The
// session context may already be cancelled by then.
const teardownTimeout = 30 * time.Second

// StatusSink receives pane status and title updates forwarded from
// the guest. Satisfied by *tmux.Server.
type StatusSink interface {
	SetPaneStatus(pane, status string) error
	SetPaneTitle(pane, title string) error
}

// RunRequest describes one sandboxed agent session.
type RunRequest struct {
	// Worktree is the absolute path of the agent's worktree.
	Worktree string

	// Dir is the initial working directory. Empty means Worktree; a
	// non-empty value must lie within it.
	Dir string

	// PaneID is the tmux pane hosting the session, if any. Status and
	// title updates from the guest land on this pane.
	PaneID string

	// Workspace is the workspace name, used in logs and handed to
	// collaborators.
	Workspace string

	// Agent selects the credential store seeded into the guest.
	// Empty means "claude".
	Agent string

	// Command is the argv to run inside the guest.
	Command []string

	// Interactive attaches the caller's terminal to the guest.
	Interactive bool

	// Stdin, Stdout, Stderr override the standard streams. Nil means
	// the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Supervisor runs one sandboxed session: it prepares the session
// state directory, serves the control channel and (under the deny
// policy) the egress proxy, starts the guest through the backend, and
// dispatches guest requests while the guest runs.
//
// A Supervisor handles a single session at a time; create one per
// Run call.
type Supervisor struct {
	Config  *ResolvedConfig
	Backend Backend

	// Spawner and Merger carry spawn-agent and merge requests to the
	// orchestrator. Nil makes the corresponding verb fail.
	Spawner WorkspaceSpawner
	Merger  Merger

	// Status receives pane updates. Nil makes status verbs fail.
	Status StatusSink

	Logger *slog.Logger
	Clock  clock.Clock

	// Environ is the host environment consulted for passthrough
	// variables. Nil means os.Environ.
	Environ []string

	// Executable is the binary name guest shims exec. Empty means
	// "warren", resolved on the guest PATH.
	Executable string

	mu            sync.Mutex
	lastHeartbeat time.Time
	session       *Session
	runner        *hostexec.Runner
}

// Run executes one session and returns the guest exit code. It
// blocks until the guest exits and the backend is torn down.
func (s *Supervisor) Run(ctx context.Context, req RunRequest) (int, error) {
	if !s.Config.Enabled {
		return 0, fmt.Errorf("sandbox is not enabled")
	}
	if len(req.Command) == 0 {
		return 0, fmt.Errorf("empty session command")
	}
	if !filepath.IsAbs(req.Worktree) {
		return 0, fmt.Errorf("worktree must be absolute: %s", req.Worktree)
	}
	dir := req.Dir
	if dir == "" {
		dir = req.Worktree
	} else if !within(dir, req.Worktree) {
		return 0, fmt.Errorf("dir %s is outside worktree %s", dir, req.Worktree)
	}
	agent := req.Agent
	if agent == "" {
		agent = "claude"
	}
	token, err := NewToken()
	if err != nil {
		return 0, err
	}

	session := &Session{
		Workspace:   req.Workspace,
		Worktree:    req.Worktree,
		Dir:         dir,
		PaneID:      req.PaneID,
		Agent:       agent,
		Interactive: req.Interactive,
		Token:       token,
		Stdin:       req.Stdin,
		Stdout:      req.Stdout,
		Stderr:      req.Stderr,
	}
	if session.Stdin == nil {
		session.Stdin = os.Stdin
	}
	if session.Stdout == nil {
		session.Stdout = os.Stdout
	}
	if session.Stderr == nil {
		session.Stderr = os.Stderr
	}

	stateDir, err := s.Backend.StateDir(ctx, session)
	if err != nil {
		return 0, err
	}
	if _, err := hostexec.WriteShims(stateDir, s.executable(), s.Config.HostCommands); err != nil {
		return 0, fmt.Errorf("write command shims: %w", err)
	}

	toolchain := s.resolveToolchain(req.Worktree)
	session.Command = toolchain.Wrap(req.Command)
	session.Env = s.passthroughEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		return 0, fmt.Errorf("resolve home directory: %w", err)
	}
	audit := hostexec.NewAudit(filepath.Join(stateDir, "audit.log"), s.clock())
	runner := &hostexec.Runner{
		Allowlist: s.Config.HostCommands,
		Worktree:  req.Worktree,
		Home:      home,
		Toolchain: toolchain,
		Logger:    s.logger(),
		Audit:     audit,
		Environ:   s.Environ,
	}

	// The control listener binds all interfaces: the guest arrives
	// through the engine gateway, not loopback.
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return 0, &RPCError{Op: "listen", Err: err}
	}
	server := rpc.NewServer(listener, session.Token, s, s.logger())
	session.RPCPort = server.Port()

	var proxy *egress.Proxy
	if s.Config.Network.Policy == PolicyDeny {
		proxy, err = s.startProxy(session, audit)
		if err != nil {
			server.Close()
			return 0, err
		}
	}

	s.mu.Lock()
	s.session = session
	s.runner = runner
	s.mu.Unlock()

	var group errgroup.Group
	group.Go(server.Serve)
	if proxy != nil {
		group.Go(proxy.Serve)
	}
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := s.Backend.Teardown(teardownCtx, session); err != nil {
			s.logger().Warn("sandbox teardown failed",
				"backend", s.Backend.Kind(), "error", err)
		}
	}()
	defer func() {
		server.Close()
		if proxy != nil {
			proxy.Close()
		}
		if err := group.Wait(); err != nil {
			s.logger().Warn("session control plane error", "error", err)
		}
	}()

	s.logger().Info("starting sandboxed session",
		"backend", s.Backend.Kind(), "workspace", req.Workspace,
		"worktree", req.Worktree, "rpc_port", session.RPCPort)

	proc, err := s.Backend.Start(ctx, session)
	if err != nil {
		return 0, err
	}
	return proc.Wait()
}

// LastHeartbeat reports when the guest last checked in. Zero if it
// never has.
func (s *Supervisor) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

func (s *Supervisor) startProxy(session *Session, audit *hostexec.Audit) (*egress.Proxy, error) {
	allowlist, err := egress.NewAllowlist(s.Config.Network.AllowedDomains)
	if err != nil {
		return nil, configErrorf("sandbox.network.allowed_domains", "%v", err)
	}
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("start egress proxy: %w", err)
	}
	// The proxy carries its own token: a guest that leaks the proxy
	// URL must not hand out control-channel access with it.
	proxyToken, err := NewToken()
	if err != nil {
		listener.Close()
		return nil, err
	}
	session.ProxyToken = proxyToken
	session.ProxyPort = listener.Addr().(*net.TCPAddr).Port
	proxy := egress.NewProxy(listener, allowlist, session.ProxyToken, s.logger())
	proxy.Deny = func(host, reason string) {
		entry := hostexec.Entry{Host: host, Reason: reason, Denied: true}
		if err := audit.Record(entry); err != nil {
			s.logger().Warn("audit record failed", "error", err)
		}
	}
	return proxy, nil
}

// resolveToolchain maps the configured mode to a host-exec toolchain,
// detecting from the worktree under the auto mode.
func (s *Supervisor) resolveToolchain(worktree string) hostexec.Toolchain {
	switch s.Config.VM.Toolchain {
	case ToolchainOff:
		return hostexec.ToolchainNone
	case ToolchainDevbox:
		return hostexec.ToolchainDevbox
	case ToolchainFlake:
		return hostexec.ToolchainFlake
	default:
		return hostexec.DetectToolchain(worktree)
	}
}

// passthroughEnv resolves the configured passthrough names against
// the host environment, preserving configuration order. Unset names
// are skipped, not passed empty.
func (s *Supervisor) passthroughEnv() []string {
	environ := s.Environ
	if environ == nil {
		environ = os.Environ()
	}
	var env []string
	for _, name := range s.Config.EnvPassthrough {
		if value, ok := lookupEnviron(environ, name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

func lookupEnviron(environ []string, name string) (string, bool) {
	for _, pair := range environ {
		if key, value, ok := strings.Cut(pair, "="); ok && key == name {
			return value, true
		}
	}
	return "", false
}

func (s *Supervisor) executable() string {
	if s.Executable != "" {
		return s.Executable
	}
	return "warren"
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Supervisor) clock() clock.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return clock.Real()
}

func (s *Supervisor) currentSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetStatus forwards a guest status update to the session's pane.
func (s *Supervisor) SetStatus(ctx context.Context, payload rpc.SetStatusPayload) error {
	session := s.currentSession()
	if s.Status == nil || session == nil || session.PaneID == "" {
		return fmt.Errorf("no pane attached to this session")
	}
	return s.Status.SetPaneStatus(session.PaneID, payload.Status)
}

// SetTitle forwards a guest title update to the session's pane.
func (s *Supervisor) SetTitle(ctx context.Context, payload rpc.SetTitlePayload) error {
	session := s.currentSession()
	if s.Status == nil || session == nil || session.PaneID == "" {
		return fmt.Errorf("no pane attached to this session")
	}
	return s.Status.SetPaneTitle(session.PaneID, payload.Title)
}

// Heartbeat records that the guest agent is alive.
func (s *Supervisor) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = s.clock().Now()
	return nil
}

// SpawnAgent validates guest-supplied flags and delegates workspace
// creation to the host orchestrator.
func (s *Supervisor) SpawnAgent(ctx context.Context, payload rpc.SpawnAgentPayload) (rpc.SpawnAgentResult, error) {
	if s.Spawner == nil {
		return rpc.SpawnAgentResult{}, fmt.Errorf("spawning is not available in this session")
	}
	session := s.currentSession()
	if session == nil {
		return rpc.SpawnAgentResult{}, fmt.Errorf("no active session")
	}
	flags, err := validateSpawnFlags(payload.Flags)
	if err != nil {
		return rpc.SpawnAgentResult{}, err
	}
	workspace, err := s.Spawner.Spawn(ctx, SpawnRequest{
		Branch: payload.Branch,
		Prompt: payload.Prompt,
		Flags:  forceNoHooks(flags),
		Dir:    session.Worktree,
	})
	if err != nil {
		return rpc.SpawnAgentResult{}, err
	}
	return rpc.SpawnAgentResult{Workspace: workspace}, nil
}

// Merge delegates a guest merge request to the host orchestrator,
// forcing hooks and verification off: the guest has already decided
// to merge, and host-side hooks would run outside the sandbox.
func (s *Supervisor) Merge(ctx context.Context, payload rpc.MergePayload) (rpc.MergeResult, error) {
	if s.Merger == nil {
		return rpc.MergeResult{}, fmt.Errorf("merging is not available in this session")
	}
	session := s.currentSession()
	if session == nil {
		return rpc.MergeResult{}, fmt.Errorf("no active session")
	}
	if payload.Branch == "" {
		return rpc.MergeResult{}, fmt.Errorf("merge requires a branch")
	}
	output, err := s.Merger.Merge(ctx, MergeRequest{
		Branch: payload.Branch,
		Flags:  forceMergeFlags(payload.Flags),
		Dir:    session.Worktree,
	})
	if err != nil {
		return rpc.MergeResult{}, err
	}
	return rpc.MergeResult{Output: output}, nil
}

// Exec runs an allow-listed host command for the guest, streaming
// output back over the connection.
func (s *Supervisor) Exec(ctx context.Context, payload rpc.ExecPayload, stream rpc.ExecStream) (int, error) {
	s.mu.Lock()
	session, runner := s.session, s.runner
	s.mu.Unlock()
	if session == nil || runner == nil {
		return 0, fmt.Errorf("no active session")
	}

	dir, err := confineDir(session.Worktree, payload.Dir)
	if err != nil {
		return 0, err
	}
	code, err := runner.Run(ctx, hostexec.Request{
		Command: payload.Command,
		Args:    payload.Args,
		Dir:     dir,
	}, streamWriter{stream.Stdout}, streamWriter{stream.Stderr})
	if err != nil {
		return 0, &HostExecError{Command: payload.Command, Err: err}
	}
	return code, nil
}

// spawnFlagSpec lists the flags a guest may pass to spawn-agent. The
// value records whether the flag consumes the following argument.
// Everything else is host-only and rejected.
var spawnFlagSpec = map[string]bool{
	"--prompt":      true,
	"--window-name": true,
	"--auto-name":   false,
	"--background":  false,
}

func validateSpawnFlags(flags []string) ([]string, error) {
	var out []string
	for i := 0; i < len(flags); i++ {
		token := flags[i]
		if !strings.HasPrefix(token, "-") {
			out = append(out, token)
			continue
		}
		name, _, hasValue := strings.Cut(token, "=")
		consumes, ok := spawnFlagSpec[name]
		if !ok {
			return nil, fmt.Errorf("unsupported flag: %s", name)
		}
		out = append(out, token)
		if consumes && !hasValue && i+1 < len(flags) {
			i++
			out = append(out, flags[i])
		}
	}
	return out, nil
}

func forceNoHooks(flags []string) []string {
	if slices.Contains(flags, "--no-hooks") {
		return flags
	}
	return append(flags, "--no-hooks")
}

func forceMergeFlags(flags []string) []string {
	out := slices.Clone(flags)
	for _, forced := range []string{"--no-verify", "--no-hooks"} {
		if !slices.Contains(out, forced) {
			out = append(out, forced)
		}
	}
	return out
}

// confineDir resolves a guest-supplied directory, relative to the
// worktree, to a host path that cannot escape it. Symlinks inside the
// worktree are resolved within it.
func confineDir(worktree, dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if filepath.IsAbs(dir) {
		return "", fmt.Errorf("dir must be relative to the workspace: %s", dir)
	}
	clean := filepath.Clean(dir)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dir escapes the workspace: %s", dir)
	}
	joined, err := securejoin.SecureJoin(worktree, clean)
	if err != nil {
		return "", fmt.Errorf("resolve dir %s: %w", dir, err)
	}
	return joined, nil
}

// streamWriter adapts a streaming send function to io.Writer for the
// host-exec runner.
type streamWriter struct {
	send func([]byte) error
}

func (w streamWriter) Write(p []byte) (int, error) {
	if err := w.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
