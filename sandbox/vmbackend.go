// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lib/git"
	"github.com/bureau-foundation/warren/sandbox/egress"
	"github.com/bureau-foundation/warren/sandbox/guest"
	"github.com/bureau-foundation/warren/sandbox/vm"
)

// vmRPCHost is the name Lima guests resolve to reach the host.
const vmRPCHost = "host.lima.internal"

// VMBackend runs sessions inside a persistent Lima VM, one per
// project or one shared instance, created and provisioned on first
// use.
type VMBackend struct {
	Config    *ResolvedConfig
	StateRoot string
	Manager   *vm.Manager
	Seeder    *vm.Seeder

	// Username is the host user name, which Lima maps into the guest.
	// Empty means the current user.
	Username string

	Logger *slog.Logger
}

// NewVMBackend builds the VM driver. Age identities for encrypted
// credential seeds are loaded from the config directory when present.
func NewVMBackend(cfg *ResolvedConfig, stateRoot string, logger *slog.Logger) (*VMBackend, error) {
	identitiesPath := ""
	if globalPath, err := GlobalConfigPath(); err == nil {
		identitiesPath = filepath.Join(filepath.Dir(globalPath), "identities.txt")
	}
	identities, err := vm.LoadIdentities(identitiesPath)
	if err != nil {
		return nil, &BackendError{Backend: BackendVM, Op: "load seed identities", Err: err}
	}

	return &VMBackend{
		Config:    cfg,
		StateRoot: stateRoot,
		Manager: &vm.Manager{
			Registry: vm.NewRegistry(filepath.Join(stateRoot, "vm", "registry")),
			Lima:     &vm.Lima{Run: vm.Run},
			Clock:    clock.Real(),
			Logger:   logger,
		},
		Seeder: &vm.Seeder{Identities: identities},
		Logger: logger,
	}, nil
}

func (b *VMBackend) Kind() BackendKind { return BackendVM }

func (b *VMBackend) username() string {
	if b.Username != "" {
		return b.Username
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return os.Getenv("USER")
}

// instanceName resolves the VM this session belongs to: the shared
// instance, or one derived from the project root so every worktree of
// a repository lands in the same VM.
func (b *VMBackend) instanceName(ctx context.Context, session *Session) (name, projectRoot string, err error) {
	if b.Config.VM.Isolation == IsolationShared {
		return vm.SharedInstanceName, "", nil
	}
	commonDir, err := git.NewRepository(session.Worktree).CommonDir(ctx)
	if err != nil {
		return "", "", &BackendError{Backend: BackendVM, Op: "resolve project root", Err: err}
	}
	projectRoot = git.ProjectRootFromCommonDir(commonDir)
	return vm.InstanceName(projectRoot), projectRoot, nil
}

func (b *VMBackend) StateDir(ctx context.Context, session *Session) (string, error) {
	name, _, err := b.instanceName(ctx, session)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(b.StateRoot, "vm", name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &BackendError{Backend: BackendVM, Op: "create state dir", Err: err}
	}
	return dir, nil
}

func (b *VMBackend) MountPlan(ctx context.Context, session *Session) ([]Mount, error) {
	spec, _, err := b.mountSpec(ctx, session)
	if err != nil {
		return nil, err
	}
	var plan []Mount
	for _, m := range vm.MountPlan(spec) {
		guestPath := m.Guest
		if guestPath == "" {
			guestPath = m.Host
		}
		plan = append(plan, Mount{Host: m.Host, Guest: guestPath, Writable: m.Writable})
	}
	return plan, nil
}

// mountSpec assembles the mount plan input for the session's VM,
// creating the host directories Lima requires to exist.
func (b *VMBackend) mountSpec(ctx context.Context, session *Session) (vm.MountPlanSpec, string, error) {
	name, projectRoot, err := b.instanceName(ctx, session)
	if err != nil {
		return vm.MountPlanSpec{}, "", err
	}
	stateDir, err := b.StateDir(ctx, session)
	if err != nil {
		return vm.MountPlanSpec{}, "", err
	}

	spec := vm.MountPlanSpec{
		StateDir:  stateDir,
		GuestHome: vm.GuestHome(b.username()),
	}

	if b.Config.VM.Isolation == IsolationShared {
		spec.Shared = true
		spec.ProjectsDir = b.Config.VM.ProjectsDir
	} else {
		commonDir, err := git.NewRepository(session.Worktree).CommonDir(ctx)
		if err != nil {
			return vm.MountPlanSpec{}, "", &BackendError{Backend: BackendVM, Op: "resolve git dir", Err: err}
		}
		worktreesDir := filepath.Join(filepath.Dir(projectRoot), filepath.Base(projectRoot)+"__worktrees")
		if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
			return vm.MountPlanSpec{}, "", &BackendError{Backend: BackendVM, Op: "create worktrees dir", Err: err}
		}
		spec.ProjectRoot = projectRoot
		spec.GitCommonDir = commonDir
		spec.WorktreesDir = worktreesDir
	}

	if guestDir := vm.CredentialGuestDir(session.Agent); guestDir != "" {
		hostDir := filepath.Join(b.StateRoot, "credentials", session.Agent)
		if err := os.MkdirAll(hostDir, 0o700); err != nil {
			return vm.MountPlanSpec{}, "", &BackendError{Backend: BackendVM, Op: "create credential store", Err: err}
		}
		spec.CredentialDirs = map[string]string{session.Agent: hostDir}
	}

	for _, m := range b.Config.Mounts {
		spec.ExtraMounts = append(spec.ExtraMounts, vm.Mount{
			Host:     m.Host,
			Guest:    m.Guest,
			Writable: m.Writable,
		})
	}
	return spec, name, nil
}

func (b *VMBackend) Start(ctx context.Context, session *Session) (GuestProcess, error) {
	if !b.Manager.Lima.Available(ctx) {
		return nil, &BackendError{
			Backend: BackendVM,
			Op:      "locate limactl",
			Err:     fmt.Errorf("limactl not found on PATH; install Lima (brew install lima) or switch sandbox.backend to container"),
		}
	}

	spec, name, err := b.mountSpec(ctx, session)
	if err != nil {
		return nil, err
	}
	provision, err := b.provisionOptions()
	if err != nil {
		return nil, err
	}

	record, err := b.Manager.Ensure(ctx, vm.EnsureOptions{
		Name:             name,
		ProjectRoot:      spec.ProjectRoot,
		CPUs:             b.Config.VM.CPUs,
		MemoryGiB:        b.Config.VM.MemoryGiB,
		DiskGiB:          b.Config.VM.DiskGiB,
		Mounts:           vm.MountPlan(spec),
		CredentialMounts: spec.CredentialDirs,
		Provision:        provision,
	})
	if err != nil {
		return nil, &BackendError{Backend: BackendVM, Op: "ensure instance", Err: err}
	}

	// Seeding copies credentials for first use; a failure degrades to
	// an unauthenticated agent, not a broken session.
	if err := b.Seeder.Seed(spec.StateDir, b.Config.VM.SeedFiles); err != nil {
		b.Logger.Warn("credential seeding failed", "vm", record.Name, "error", err)
	}

	if err := b.applyEgressFilter(ctx, name, session); err != nil {
		return nil, err
	}

	args := vm.ShellArgs(name, session.Dir, b.guestEnv(session), session.Command)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = session.Stdin
	cmd.Stdout = session.Stdout
	cmd.Stderr = session.Stderr
	proc, err := startChild(cmd)
	if err != nil {
		return nil, &BackendError{Backend: BackendVM, Op: "enter instance", Err: err}
	}
	return proc, nil
}

// Teardown leaves the VM running: instances persist across sessions
// and are stopped explicitly through the vm commands.
func (b *VMBackend) Teardown(ctx context.Context, session *Session) error {
	return nil
}

// applyEgressFilter locks guest egress to the session's host
// endpoints under the deny policy, and unlocks it otherwise, undoing
// whatever a previous session left applied. Deny is fail-closed: if
// the filter cannot be applied the session does not start.
func (b *VMBackend) applyEgressFilter(ctx context.Context, name string, session *Session) error {
	if b.Config.Network.Policy != PolicyDeny {
		if _, err := b.Manager.Lima.Shell(ctx, name, egress.RenderResetRules(), true); err != nil {
			b.Logger.Warn("resetting guest egress filter failed", "vm", name, "error", err)
		}
		return nil
	}

	gateway, err := netip.ParseAddr(vm.HostGatewayAddr)
	if err != nil {
		return &BackendError{Backend: BackendVM, Op: "parse gateway address", Err: err}
	}
	endpoints := []netip.AddrPort{
		netip.AddrPortFrom(gateway, uint16(session.RPCPort)),
	}
	if session.ProxyPort != 0 {
		endpoints = append(endpoints, netip.AddrPortFrom(gateway, uint16(session.ProxyPort)))
	}
	if _, err := b.Manager.Lima.Shell(ctx, name, egress.RenderGuestRules(endpoints), true); err != nil {
		return &BackendError{Backend: BackendVM, Op: "apply guest egress filter", Err: err}
	}
	return nil
}

func (b *VMBackend) provisionOptions() (vm.ProvisionOptions, error) {
	opts := vm.ProvisionOptions{SkipDefaults: b.Config.VM.SkipDefaultProvision}
	if b.Config.VM.ProvisionScript != "" {
		script, err := os.ReadFile(b.Config.VM.ProvisionScript)
		if err != nil {
			return opts, &BackendError{Backend: BackendVM, Op: "read provision script", Err: err}
		}
		opts.UserScript = string(script)
	}
	return opts, nil
}

func (b *VMBackend) guestEnv(session *Session) []vm.EnvVar {
	var env []vm.EnvVar
	appendPair := func(pair string) {
		name, value, _ := strings.Cut(pair, "=")
		env = append(env, vm.EnvVar{Name: name, Value: value})
	}

	for _, pair := range guest.Environ(vmRPCHost, session.RPCPort, session.Token) {
		appendPair(pair)
	}
	for _, name := range []string{"TERM", "COLORTERM"} {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, vm.EnvVar{Name: name, Value: value})
		}
	}
	if session.ProxyPort != 0 {
		address := net.JoinHostPort(vmRPCHost, strconv.Itoa(session.ProxyPort))
		url := egress.ClientURL(address, session.ProxyToken)
		for _, name := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
			env = append(env, vm.EnvVar{Name: name, Value: url})
		}
	}
	for _, pair := range session.Env {
		appendPair(pair)
	}
	return env
}
