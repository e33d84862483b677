// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendKind selects the isolation technology for a session.
type BackendKind string

const (
	// BackendContainer runs each session in an ephemeral container.
	BackendContainer BackendKind = "container"
	// BackendVM runs sessions inside a persistent Lima VM.
	BackendVM BackendKind = "vm"
)

// TargetScope selects which panes of a workspace run sandboxed.
type TargetScope string

const (
	// ScopeAgent sandboxes only the agent pane. Shell and log panes
	// stay on the host.
	ScopeAgent TargetScope = "agent"
	// ScopeAll sandboxes every pane of the workspace.
	ScopeAll TargetScope = "all"
)

// NetworkPolicy selects the guest's egress posture.
type NetworkPolicy string

const (
	// PolicyAllow leaves guest networking unrestricted.
	PolicyAllow NetworkPolicy = "allow"
	// PolicyDeny funnels guest egress through the host CONNECT proxy,
	// which admits only allowlisted domains on port 443.
	PolicyDeny NetworkPolicy = "deny"
)

// IsolationKind selects how VM instances map to projects.
type IsolationKind string

const (
	// IsolationProject gives every project its own VM.
	IsolationProject IsolationKind = "project"
	// IsolationShared runs all projects in one VM with a common
	// projects directory mounted.
	IsolationShared IsolationKind = "shared"
)

// ToolchainMode selects how guest and host-exec commands pick up a
// project's development environment.
type ToolchainMode string

const (
	// ToolchainAuto detects devbox.json or flake.nix in the worktree.
	ToolchainAuto ToolchainMode = "auto"
	// ToolchainOff runs commands without an environment wrapper.
	ToolchainOff ToolchainMode = "off"
	// ToolchainDevbox wraps commands in `devbox run --`.
	ToolchainDevbox ToolchainMode = "devbox"
	// ToolchainFlake wraps commands in `nix develop --command`.
	ToolchainFlake ToolchainMode = "flake"
)

// FileConfig is the sandbox section of a configuration file, before
// merging and validation. Pointer fields distinguish "absent" from
// the zero value, so project values overlay global ones field by
// field.
//
// The scope struct tag marks fields a project file may not set. The
// project file is repository content; a global-only field appearing
// there is repository content trying to widen its own sandbox, and
// the merge filter drops it with a warning.
type FileConfig struct {
	Enabled        *bool                `yaml:"enabled,omitempty"`
	Backend        *string              `yaml:"backend,omitempty"`
	Scope          *string              `yaml:"scope,omitempty"`
	Image          *string              `yaml:"image,omitempty" scope:"global"`
	EnvPassthrough []string             `yaml:"env_passthrough,omitempty"`
	Mounts         []MountEntry         `yaml:"extra_mounts,omitempty"`
	HostCommands   []string             `yaml:"host_commands,omitempty" scope:"global"`
	Network        *NetworkFileConfig   `yaml:"network,omitempty" scope:"global"`
	Container      *ContainerFileConfig `yaml:"container,omitempty"`
	VM             *VMFileConfig        `yaml:"vm,omitempty"`
}

// NetworkFileConfig is the network section of a configuration file.
type NetworkFileConfig struct {
	Policy         *string  `yaml:"policy,omitempty"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
}

// ContainerFileConfig is the container section of a configuration
// file.
type ContainerFileConfig struct {
	Runtime *string `yaml:"runtime,omitempty"`
	RPCHost *string `yaml:"rpc_host,omitempty" scope:"global"`
}

// VMFileConfig is the vm section of a configuration file.
type VMFileConfig struct {
	Isolation            *string           `yaml:"isolation,omitempty"`
	ProjectsDir          *string           `yaml:"projects_dir,omitempty"`
	CPUs                 *int              `yaml:"cpus,omitempty"`
	MemoryGiB            *int              `yaml:"memory_gib,omitempty"`
	DiskGiB              *int              `yaml:"disk_gib,omitempty"`
	ProvisionScript      *string           `yaml:"provision_script,omitempty"`
	SkipDefaultProvision *bool             `yaml:"skip_default_provision,omitempty"`
	Toolchain            *string           `yaml:"toolchain,omitempty"`
	SeedFiles            map[string]string `yaml:"seed_files,omitempty"`
}

// MountEntry is one extra mount as written in configuration. Two YAML
// forms decode into it: a bare string is a read-only mirror of that
// host path, an object sets host, guest, and writable explicitly.
type MountEntry struct {
	Host     string `yaml:"host"`
	Guest    string `yaml:"guest,omitempty"`
	Writable bool   `yaml:"writable,omitempty"`
}

// UnmarshalYAML accepts both the string and the object form.
func (m *MountEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var host string
		if err := value.Decode(&host); err != nil {
			return err
		}
		*m = MountEntry{Host: host}
		return nil
	}

	type rawMountEntry MountEntry
	var raw rawMountEntry
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*m = MountEntry(raw)
	return nil
}

// DropGlobalOnly removes fields tagged scope:"global" from a config
// loaded at project scope, logging one warning per dropped field with
// its full key path. The walk is driven by the struct tags, so adding
// a new global-only field is a one-tag change.
func (c *FileConfig) DropGlobalOnly(logger *slog.Logger) {
	if c == nil {
		return
	}
	dropGlobalFields(reflect.ValueOf(c).Elem(), "sandbox", logger)
}

func dropGlobalFields(v reflect.Value, prefix string, logger *slog.Logger) {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		path := prefix + "." + yamlFieldName(field)
		value := v.Field(i)

		if field.Tag.Get("scope") == "global" {
			if !value.IsZero() {
				value.SetZero()
				logger.Warn("ignoring global-only sandbox setting in project config",
					"setting", path)
			}
			continue
		}
		if value.Kind() == reflect.Pointer && !value.IsNil() &&
			value.Elem().Kind() == reflect.Struct {
			dropGlobalFields(value.Elem(), path, logger)
		}
	}
}

func yamlFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("yaml")
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return strings.ToLower(field.Name)
	}
	return name
}

// Merge overlays project onto global and returns a config that
// aliases neither input. Scalars: a set project value wins.
// env_passthrough is a union keeping global order first; mounts are
// concatenated and checked for guest-path conflicts at resolve time.
// Global-only fields come from global scope alone, DropGlobalOnly
// having already stripped them from the project side.
func Merge(global, project *FileConfig) *FileConfig {
	if global == nil {
		global = &FileConfig{}
	}
	if project == nil {
		project = &FileConfig{}
	}

	merged := &FileConfig{
		Enabled:        override(global.Enabled, project.Enabled),
		Backend:        override(global.Backend, project.Backend),
		Scope:          override(global.Scope, project.Scope),
		Image:          override(global.Image, project.Image),
		EnvPassthrough: unionOrdered(global.EnvPassthrough, project.EnvPassthrough),
		Mounts:         slices.Concat(global.Mounts, project.Mounts),
		HostCommands:   slices.Clone(global.HostCommands),
		Network:        cloneNetwork(global.Network),
		Container:      mergeContainer(global.Container, project.Container),
		VM:             mergeVM(global.VM, project.VM),
	}
	return merged
}

// override returns a copy of overlay when set, else a copy of base.
func override[T any](base, overlay *T) *T {
	if overlay != nil {
		v := *overlay
		return &v
	}
	if base != nil {
		v := *base
		return &v
	}
	return nil
}

// unionOrdered concatenates keeping first occurrence order, which is
// the order passthrough variables are injected into the guest.
func unionOrdered(first, second []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range slices.Concat(first, second) {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func cloneNetwork(network *NetworkFileConfig) *NetworkFileConfig {
	if network == nil {
		return nil
	}
	clone := &NetworkFileConfig{
		AllowedDomains: slices.Clone(network.AllowedDomains),
	}
	if network.Policy != nil {
		policy := *network.Policy
		clone.Policy = &policy
	}
	return clone
}

func mergeContainer(global, project *ContainerFileConfig) *ContainerFileConfig {
	if global == nil && project == nil {
		return nil
	}
	if global == nil {
		global = &ContainerFileConfig{}
	}
	if project == nil {
		project = &ContainerFileConfig{}
	}
	return &ContainerFileConfig{
		Runtime: override(global.Runtime, project.Runtime),
		RPCHost: override(global.RPCHost, project.RPCHost),
	}
}

func mergeVM(global, project *VMFileConfig) *VMFileConfig {
	if global == nil && project == nil {
		return nil
	}
	if global == nil {
		global = &VMFileConfig{}
	}
	if project == nil {
		project = &VMFileConfig{}
	}
	merged := &VMFileConfig{
		Isolation:            override(global.Isolation, project.Isolation),
		ProjectsDir:          override(global.ProjectsDir, project.ProjectsDir),
		CPUs:                 override(global.CPUs, project.CPUs),
		MemoryGiB:            override(global.MemoryGiB, project.MemoryGiB),
		DiskGiB:              override(global.DiskGiB, project.DiskGiB),
		ProvisionScript:      override(global.ProvisionScript, project.ProvisionScript),
		SkipDefaultProvision: override(global.SkipDefaultProvision, project.SkipDefaultProvision),
		Toolchain:            override(global.Toolchain, project.Toolchain),
	}
	merged.SeedFiles = make(map[string]string)
	for dest, source := range global.SeedFiles {
		merged.SeedFiles[dest] = source
	}
	for dest, source := range project.SeedFiles {
		merged.SeedFiles[dest] = source
	}
	if len(merged.SeedFiles) == 0 {
		merged.SeedFiles = nil
	}
	return merged
}
