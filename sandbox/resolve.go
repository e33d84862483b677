// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/warren/sandbox/egress"
	"github.com/bureau-foundation/warren/sandbox/hostexec"
)

// VM resource defaults, applied when the configuration leaves them
// unset.
const (
	DefaultVMCPUs      = 4
	DefaultVMMemoryGiB = 8
	DefaultVMDiskGiB   = 64
)

// DefaultRPCHost is the name container guests resolve to reach the
// host. Docker publishes it natively on macOS; on Linux the run args
// add a host-gateway alias for it.
const DefaultRPCHost = "host.docker.internal"

// Mount is a resolved bind of a host path into the guest.
type Mount struct {
	Host     string
	Guest    string
	Writable bool
}

// NetworkSettings is the resolved egress posture.
type NetworkSettings struct {
	Policy         NetworkPolicy
	AllowedDomains []string
}

// ContainerSettings is the resolved container backend configuration.
type ContainerSettings struct {
	// Runtime is "docker", "podman", or empty for detection at
	// session start.
	Runtime string
	// RPCHost is the name guests use to reach the host control
	// channel and egress proxy.
	RPCHost string
}

// VMSettings is the resolved VM backend configuration.
type VMSettings struct {
	Isolation   IsolationKind
	ProjectsDir string
	CPUs        int
	MemoryGiB   int
	DiskGiB     int

	// ProvisionScript is the absolute path of an operator-supplied
	// provisioning script, or empty.
	ProvisionScript      string
	SkipDefaultProvision bool
	Toolchain            ToolchainMode

	// SeedFiles maps state-dir-relative destinations to host source
	// files copied into the guest state if missing.
	SeedFiles map[string]string
}

// ResolvedConfig is a validated sandbox configuration. Resolving the
// same FileConfig against the same filesystem state always yields an
// identical ResolvedConfig; nothing here depends on ambient process
// state.
type ResolvedConfig struct {
	Enabled        bool
	Backend        BackendKind
	Scope          TargetScope
	Image          string
	EnvPassthrough []string
	Mounts         []Mount
	HostCommands   []string
	Network        NetworkSettings
	Container      ContainerSettings
	VM             VMSettings
}

// Resolver validates merged configuration into a ResolvedConfig.
type Resolver struct {
	// Home expands a leading ~ in configured paths. Empty means the
	// current user's home directory.
	Home string

	// Stat checks configured host paths. Nil means os.Stat.
	Stat func(string) (os.FileInfo, error)
}

func (r *Resolver) home() (string, error) {
	if r.Home != "" {
		return r.Home, nil
	}
	return os.UserHomeDir()
}

func (r *Resolver) stat(path string) (os.FileInfo, error) {
	if r.Stat != nil {
		return r.Stat(path)
	}
	return os.Stat(path)
}

// Resolve validates cfg. Every problem is a ConfigError naming the
// offending key; the first one found is returned.
func (r *Resolver) Resolve(cfg *FileConfig) (*ResolvedConfig, error) {
	if cfg == nil {
		cfg = &FileConfig{}
	}

	resolved := &ResolvedConfig{
		EnvPassthrough: slices.Clone(cfg.EnvPassthrough),
	}

	if cfg.Enabled != nil {
		resolved.Enabled = *cfg.Enabled
	}

	backend, err := resolveBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	resolved.Backend = backend

	scope, err := resolveScope(cfg.Scope)
	if err != nil {
		return nil, err
	}
	resolved.Scope = scope

	if cfg.Image != nil {
		resolved.Image = *cfg.Image
	}
	if resolved.Enabled && backend == BackendContainer && resolved.Image == "" {
		return nil, configErrorf("sandbox.image", "required for the container backend")
	}

	mounts, err := r.resolveMounts(cfg.Mounts)
	if err != nil {
		return nil, err
	}
	resolved.Mounts = mounts

	for i, name := range cfg.HostCommands {
		if err := hostexec.ValidateName(name); err != nil {
			return nil, &ConfigError{
				Setting: fmt.Sprintf("sandbox.host_commands[%d]", i),
				Reason:  "invalid command name",
				Err:     err,
			}
		}
	}
	resolved.HostCommands = slices.Clone(cfg.HostCommands)

	network, err := resolveNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	resolved.Network = network

	container, err := resolveContainer(cfg.Container)
	if err != nil {
		return nil, err
	}
	resolved.Container = container

	vm, err := r.resolveVM(cfg.VM)
	if err != nil {
		return nil, err
	}
	resolved.VM = vm

	return resolved, nil
}

func resolveBackend(value *string) (BackendKind, error) {
	if value == nil {
		return BackendContainer, nil
	}
	switch BackendKind(*value) {
	case BackendContainer:
		return BackendContainer, nil
	case BackendVM:
		return BackendVM, nil
	}
	return "", configErrorf("sandbox.backend", "unknown backend %q (container or vm)", *value)
}

func resolveScope(value *string) (TargetScope, error) {
	if value == nil {
		return ScopeAgent, nil
	}
	switch TargetScope(*value) {
	case ScopeAgent:
		return ScopeAgent, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", configErrorf("sandbox.scope", "unknown scope %q (agent or all)", *value)
}

func (r *Resolver) resolveMounts(entries []MountEntry) ([]Mount, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	mounts := make([]Mount, 0, len(entries))
	byGuest := make(map[string]int)
	for i, entry := range entries {
		setting := fmt.Sprintf("sandbox.extra_mounts[%d]", i)
		if entry.Host == "" {
			return nil, configErrorf(setting, "host path is required")
		}

		host, err := r.expandHome(entry.Host)
		if err != nil {
			return nil, &ConfigError{Setting: setting, Reason: "expanding host path", Err: err}
		}
		host = filepath.Clean(host)
		if !filepath.IsAbs(host) {
			return nil, configErrorf(setting, "host path %s is not absolute", host)
		}
		if _, err := r.stat(host); err != nil {
			return nil, &ConfigError{Setting: setting, Reason: "host path does not exist", Err: err}
		}

		guest := entry.Guest
		if guest == "" {
			guest = host
		}
		guest = filepath.Clean(guest)
		if !filepath.IsAbs(guest) {
			return nil, configErrorf(setting, "guest path %s is not absolute", guest)
		}
		if prev, taken := byGuest[guest]; taken {
			return nil, configErrorf(setting,
				"guest path %s already used by sandbox.extra_mounts[%d]", guest, prev)
		}
		byGuest[guest] = i

		mounts = append(mounts, Mount{Host: host, Guest: guest, Writable: entry.Writable})
	}
	return mounts, nil
}

func resolveNetwork(network *NetworkFileConfig) (NetworkSettings, error) {
	settings := NetworkSettings{Policy: PolicyAllow}
	if network == nil {
		return settings, nil
	}

	if network.Policy != nil {
		switch NetworkPolicy(*network.Policy) {
		case PolicyAllow:
			settings.Policy = PolicyAllow
		case PolicyDeny:
			settings.Policy = PolicyDeny
		default:
			return settings, configErrorf("sandbox.network.policy",
				"unknown policy %q (allow or deny)", *network.Policy)
		}
	}

	settings.AllowedDomains = slices.Clone(network.AllowedDomains)
	if settings.Policy == PolicyDeny {
		if len(settings.AllowedDomains) == 0 {
			return settings, configErrorf("sandbox.network.allowed_domains",
				"deny policy with an empty domain allowlist blocks all egress, including the agent API")
		}
		if _, err := egress.NewAllowlist(settings.AllowedDomains); err != nil {
			return settings, &ConfigError{
				Setting: "sandbox.network.allowed_domains",
				Reason:  "invalid domain pattern",
				Err:     err,
			}
		}
	}
	return settings, nil
}

func resolveContainer(container *ContainerFileConfig) (ContainerSettings, error) {
	settings := ContainerSettings{RPCHost: DefaultRPCHost}
	if container == nil {
		return settings, nil
	}

	if container.Runtime != nil {
		switch *container.Runtime {
		case "docker", "podman":
			settings.Runtime = *container.Runtime
		default:
			return settings, configErrorf("sandbox.container.runtime",
				"unknown runtime %q (docker or podman)", *container.Runtime)
		}
	}
	if container.RPCHost != nil && *container.RPCHost != "" {
		settings.RPCHost = *container.RPCHost
	}
	return settings, nil
}

func (r *Resolver) resolveVM(vm *VMFileConfig) (VMSettings, error) {
	settings := VMSettings{
		Isolation: IsolationProject,
		CPUs:      DefaultVMCPUs,
		MemoryGiB: DefaultVMMemoryGiB,
		DiskGiB:   DefaultVMDiskGiB,
		Toolchain: ToolchainAuto,
	}
	if vm == nil {
		return settings, nil
	}

	if vm.Isolation != nil {
		switch IsolationKind(*vm.Isolation) {
		case IsolationProject:
			settings.Isolation = IsolationProject
		case IsolationShared:
			settings.Isolation = IsolationShared
		default:
			return settings, configErrorf("sandbox.vm.isolation",
				"unknown isolation %q (project or shared)", *vm.Isolation)
		}
	}

	if vm.ProjectsDir != nil && *vm.ProjectsDir != "" {
		dir, err := r.expandHome(*vm.ProjectsDir)
		if err != nil {
			return settings, &ConfigError{
				Setting: "sandbox.vm.projects_dir", Reason: "expanding path", Err: err,
			}
		}
		settings.ProjectsDir = filepath.Clean(dir)
	}
	if settings.Isolation == IsolationShared && settings.ProjectsDir == "" {
		return settings, configErrorf("sandbox.vm.projects_dir",
			"required for shared isolation; set it to the directory holding your projects, for example:\n"+
				"  sandbox:\n    vm:\n      isolation: shared\n      projects_dir: ~/code")
	}

	for _, resource := range []struct {
		name  string
		value *int
		out   *int
	}{
		{"cpus", vm.CPUs, &settings.CPUs},
		{"memory_gib", vm.MemoryGiB, &settings.MemoryGiB},
		{"disk_gib", vm.DiskGiB, &settings.DiskGiB},
	} {
		if resource.value == nil {
			continue
		}
		if *resource.value <= 0 {
			return settings, configErrorf("sandbox.vm."+resource.name,
				"must be positive, got %d", *resource.value)
		}
		*resource.out = *resource.value
	}

	if vm.ProvisionScript != nil && *vm.ProvisionScript != "" {
		script, err := r.expandHome(*vm.ProvisionScript)
		if err != nil {
			return settings, &ConfigError{
				Setting: "sandbox.vm.provision_script", Reason: "expanding path", Err: err,
			}
		}
		script = filepath.Clean(script)
		if _, err := r.stat(script); err != nil {
			return settings, &ConfigError{
				Setting: "sandbox.vm.provision_script",
				Reason:  "script does not exist",
				Err:     err,
			}
		}
		settings.ProvisionScript = script
	}

	if vm.SkipDefaultProvision != nil {
		settings.SkipDefaultProvision = *vm.SkipDefaultProvision
	}

	if vm.Toolchain != nil {
		switch ToolchainMode(*vm.Toolchain) {
		case ToolchainAuto, ToolchainOff, ToolchainDevbox, ToolchainFlake:
			settings.Toolchain = ToolchainMode(*vm.Toolchain)
		default:
			return settings, configErrorf("sandbox.vm.toolchain",
				"unknown toolchain mode %q (auto, off, devbox, or flake)", *vm.Toolchain)
		}
	}

	if len(vm.SeedFiles) > 0 {
		settings.SeedFiles = make(map[string]string, len(vm.SeedFiles))
		for dest, source := range vm.SeedFiles {
			expanded, err := r.expandHome(source)
			if err != nil {
				return settings, &ConfigError{
					Setting: "sandbox.vm.seed_files." + dest,
					Reason:  "expanding source path",
					Err:     err,
				}
			}
			settings.SeedFiles[dest] = filepath.Clean(expanded)
		}
	}

	return settings, nil
}

// expandHome rewrites a leading ~ or ~/ to the home directory. ~user
// forms are not supported.
func (r *Resolver) expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := r.home()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
