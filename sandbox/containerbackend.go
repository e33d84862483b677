// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lib/git"
	"github.com/bureau-foundation/warren/sandbox/container"
	"github.com/bureau-foundation/warren/sandbox/egress"
	"github.com/bureau-foundation/warren/sandbox/guest"
	"github.com/bureau-foundation/warren/sandbox/vm"
)

// guestHome is the home directory inside session containers. The
// image may run as any uid, so home is somewhere always writable.
const guestHome = "/tmp"

// guestPath is the base PATH inside session containers, with the
// host-command shims in front.
const guestPath = guestHome + "/.warren-state/shims/bin:/root/.local/bin:/usr/local/bin:/usr/bin:/bin"

// ContainerBackend runs each session in an ephemeral container,
// removed on exit. Nothing persists between sessions except the
// credential store and the state directory, both bind-mounted from
// the host.
type ContainerBackend struct {
	Engine    container.Engine
	Config    *ResolvedConfig
	StateRoot string

	// Run executes engine commands for image management and teardown.
	// Nil means the engine binary on PATH.
	Run container.Runner

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewContainerBackend builds the container driver, detecting the
// engine unless the configuration pins one.
func NewContainerBackend(cfg *ResolvedConfig, stateRoot string, logger *slog.Logger) (*ContainerBackend, error) {
	engine := container.Engine(cfg.Container.Runtime)
	if cfg.Container.Runtime == "" {
		detected, err := container.DetectEngine(nil)
		if err != nil {
			return nil, &BackendError{Backend: BackendContainer, Op: "detect engine", Err: err}
		}
		engine = detected
	}
	return &ContainerBackend{
		Engine:    engine,
		Config:    cfg,
		StateRoot: stateRoot,
		Clock:     clock.Real(),
		Logger:    logger,
	}, nil
}

func (b *ContainerBackend) Kind() BackendKind { return BackendContainer }

// containerName returns the session's container name, derived from
// the worktree and the supervisor pid so Teardown can recompute it.
func (b *ContainerBackend) containerName(session *Session) string {
	return fmt.Sprintf("wn-%s-%d", filepath.Base(session.Worktree), os.Getpid())
}

func (b *ContainerBackend) StateDir(ctx context.Context, session *Session) (string, error) {
	dir := filepath.Join(b.StateRoot, "container", filepath.Base(session.Worktree))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &BackendError{Backend: BackendContainer, Op: "create state dir", Err: err}
	}
	return dir, nil
}

func (b *ContainerBackend) MountPlan(ctx context.Context, session *Session) ([]Mount, error) {
	opts, err := b.options(ctx, session)
	if err != nil {
		return nil, err
	}

	plan := []Mount{{Host: opts.Worktree, Guest: opts.Worktree, Writable: true}}
	if opts.MetadataDir != "" {
		plan = append(plan, Mount{Host: opts.MetadataDir, Guest: opts.MetadataDir, Writable: true})
	}
	for _, m := range opts.Mounts {
		plan = append(plan, Mount{Host: m.Source, Guest: m.Target, Writable: !m.ReadOnly})
	}
	return plan, nil
}

func (b *ContainerBackend) Start(ctx context.Context, session *Session) (GuestProcess, error) {
	if err := b.ensurer().Ensure(ctx, b.Config.Image); err != nil {
		return nil, &BackendError{Backend: BackendContainer, Op: "ensure image", Err: err}
	}

	opts, err := b.options(ctx, session)
	if err != nil {
		return nil, err
	}
	args, err := container.RunArgs(b.Engine, opts)
	if err != nil {
		return nil, &BackendError{Backend: BackendContainer, Op: "build run args", Err: err}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = session.Stdin
	cmd.Stdout = session.Stdout
	cmd.Stderr = session.Stderr
	proc, err := startChild(cmd)
	if err != nil {
		return nil, &BackendError{Backend: BackendContainer, Op: "start container", Err: err}
	}
	return proc, nil
}

// Teardown stops the session container. `docker run --rm` usually
// beats us to it, so a missing container is success.
func (b *ContainerBackend) Teardown(ctx context.Context, session *Session) error {
	run := b.Run
	if run == nil {
		run = container.Run
	}
	name := b.containerName(session)
	out, err := run(ctx, string(b.Engine), "stop", "-t", "2", name)
	if err != nil {
		diagnostic := strings.ToLower(err.Error() + string(out))
		if strings.Contains(diagnostic, "no such container") {
			return nil
		}
		return &BackendError{Backend: BackendContainer, Op: "stop container", Err: err}
	}
	return nil
}

// options assembles the full run configuration for a session.
func (b *ContainerBackend) options(ctx context.Context, session *Session) (*container.Options, error) {
	stateDir, err := b.StateDir(ctx, session)
	if err != nil {
		return nil, err
	}

	mounts := []container.Mount{{
		Source: stateDir,
		Target: guestHome + "/.warren-state",
	}}
	credMounts, err := b.credentialMounts(session.Agent)
	if err != nil {
		return nil, err
	}
	mounts = append(mounts, credMounts...)
	for _, m := range b.Config.Mounts {
		mounts = append(mounts, container.Mount{
			Source:   m.Host,
			Target:   m.Guest,
			ReadOnly: !m.Writable,
		})
	}

	metadataDir, err := git.MetadataDir(session.Worktree)
	if err != nil {
		return nil, &BackendError{Backend: BackendContainer, Op: "locate git metadata", Err: err}
	}
	// A primary checkout's .git already lives inside the worktree
	// mount. Only a linked worktree needs its shared metadata bound
	// separately.
	if within(metadataDir, session.Worktree) {
		metadataDir = ""
	}

	env := map[string]string{
		"HOME": guestHome,
		"PATH": guestPath,
	}
	for _, pair := range guest.Environ(b.Config.Container.RPCHost, session.RPCPort, session.Token) {
		name, value, _ := strings.Cut(pair, "=")
		env[name] = value
	}
	if session.ProxyPort != 0 {
		address := net.JoinHostPort(b.Config.Container.RPCHost, strconv.Itoa(session.ProxyPort))
		url := egress.ClientURL(address, session.ProxyToken)
		for _, name := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
			env[name] = url
		}
	}
	for _, pair := range session.Env {
		name, value, _ := strings.Cut(pair, "=")
		env[name] = value
	}

	return &container.Options{
		Image:       b.Config.Image,
		Name:        b.containerName(session),
		Worktree:    session.Worktree,
		MetadataDir: metadataDir,
		Mounts:      mounts,
		Env:         env,
		User:        fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Interactive: session.Interactive,
		HostGateway: b.Engine == container.EngineDocker && b.Config.Container.RPCHost == DefaultRPCHost,
		Command:     session.Command,
	}, nil
}

// credentialMounts binds the per-agent credential store into the
// guest home, creating it on first use. The store is sandbox-scoped:
// the host's real agent credentials are never exposed.
func (b *ContainerBackend) credentialMounts(agent string) ([]container.Mount, error) {
	guestDir := vm.CredentialGuestDir(agent)
	if guestDir == "" {
		return nil, nil
	}

	hostDir := filepath.Join(b.StateRoot, "credentials", agent)
	if err := os.MkdirAll(hostDir, 0o700); err != nil {
		return nil, &BackendError{Backend: BackendContainer, Op: "create credential store", Err: err}
	}
	mounts := []container.Mount{{
		Source: hostDir,
		Target: guestHome + "/" + guestDir,
	}}

	if agent == "claude" {
		hostFile := filepath.Join(b.StateRoot, "credentials", agent+".json")
		if err := writeFileIfMissing(hostFile, []byte("{}\n"), 0o600); err != nil {
			return nil, &BackendError{Backend: BackendContainer, Op: "create credential file", Err: err}
		}
		mounts = append(mounts, container.Mount{
			Source: hostFile,
			Target: guestHome + "/.claude.json",
		})
	}
	return mounts, nil
}

func (b *ContainerBackend) ensurer() *container.ImageEnsurer {
	run := b.Run
	if run == nil {
		run = container.Run
	}
	return &container.ImageEnsurer{
		Engine:    b.Engine,
		Run:       run,
		CachePath: filepath.Join(b.StateRoot, "container", "pull.cbor"),
		Clock:     b.Clock,
		Logger:    b.Logger,
	}
}

func writeFileIfMissing(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, data, perm)
}

// within reports whether child is inside parent (or equals it).
func within(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
