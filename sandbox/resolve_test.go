// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"io/fs"
	"os"
	"reflect"
	"slices"
	"strings"
	"testing"
)

// statOnly returns a stat function that reports only the given paths
// as existing.
func statOnly(paths ...string) func(string) (os.FileInfo, error) {
	return func(path string) (os.FileInfo, error) {
		if slices.Contains(paths, path) {
			return nil, nil
		}
		return nil, fs.ErrNotExist
	}
}

func testResolver(paths ...string) *Resolver {
	return &Resolver{Home: "/home/dev", Stat: statOnly(paths...)}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	resolved, err := testResolver().Resolve(&FileConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if resolved.Enabled {
		t.Error("enabled by default")
	}
	if resolved.Backend != BackendContainer {
		t.Errorf("backend = %s, want container", resolved.Backend)
	}
	if resolved.Scope != ScopeAgent {
		t.Errorf("scope = %s, want agent", resolved.Scope)
	}
	if resolved.Network.Policy != PolicyAllow {
		t.Errorf("network policy = %s, want allow", resolved.Network.Policy)
	}
	if resolved.Container.RPCHost != DefaultRPCHost {
		t.Errorf("rpc host = %s, want %s", resolved.Container.RPCHost, DefaultRPCHost)
	}
	wantVM := VMSettings{
		Isolation: IsolationProject,
		CPUs:      DefaultVMCPUs,
		MemoryGiB: DefaultVMMemoryGiB,
		DiskGiB:   DefaultVMDiskGiB,
		Toolchain: ToolchainAuto,
	}
	if resolved.VM != wantVM {
		t.Errorf("vm = %+v, want %+v", resolved.VM, wantVM)
	}
}

func TestResolveTwiceIdentical(t *testing.T) {
	t.Parallel()

	cfg := &FileConfig{
		Enabled:        boolPtr(true),
		Backend:        stringPtr("vm"),
		Scope:          stringPtr("all"),
		Image:          stringPtr("ghcr.io/bureau-foundation/warren-agent:latest"),
		EnvPassthrough: []string{"GH_TOKEN", "EDITOR"},
		Mounts: []MountEntry{
			{Host: "~/datasets", Guest: "/datasets"},
			{Host: "/var/cache/models", Writable: true},
		},
		HostCommands: []string{"just", "cargo"},
		Network: &NetworkFileConfig{
			Policy:         stringPtr("deny"),
			AllowedDomains: []string{"api.anthropic.com", "*.github.com"},
		},
		Container: &ContainerFileConfig{Runtime: stringPtr("podman")},
		VM: &VMFileConfig{
			Isolation:   stringPtr("shared"),
			ProjectsDir: stringPtr("~/code"),
			CPUs:        intPtr(2),
			SeedFiles:   map[string]string{".claude.json": "~/seeds/claude.json"},
		},
	}
	resolver := testResolver("/home/dev/datasets", "/var/cache/models")

	first, err := resolver.Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := resolver.Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolve not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestResolveImageRequired(t *testing.T) {
	t.Parallel()

	_, err := testResolver().Resolve(&FileConfig{Enabled: boolPtr(true)})
	if !IsConfigError(err) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if !strings.Contains(err.Error(), "sandbox.image") {
		t.Errorf("err = %v, want it to name sandbox.image", err)
	}

	// The VM backend provisions its own guest; no image needed.
	_, err = testResolver().Resolve(&FileConfig{
		Enabled: boolPtr(true),
		Backend: stringPtr("vm"),
	})
	if err != nil {
		t.Errorf("vm backend without image: %v", err)
	}

	// Disabled config needs no image either.
	_, err = testResolver().Resolve(&FileConfig{})
	if err != nil {
		t.Errorf("disabled config without image: %v", err)
	}
}

func TestResolveMounts(t *testing.T) {
	t.Parallel()

	resolver := testResolver("/home/dev/datasets", "/var/cache/models")
	resolved, err := resolver.Resolve(&FileConfig{
		Mounts: []MountEntry{
			{Host: "~/datasets"},
			{Host: "/var/cache/models", Guest: "/models", Writable: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []Mount{
		{Host: "/home/dev/datasets", Guest: "/home/dev/datasets"},
		{Host: "/var/cache/models", Guest: "/models", Writable: true},
	}
	if !slices.Equal(resolved.Mounts, want) {
		t.Errorf("mounts = %+v, want %+v", resolved.Mounts, want)
	}
}

func TestResolveMountErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mounts []MountEntry
		want   string
	}{
		{
			name:   "empty host",
			mounts: []MountEntry{{Guest: "/data"}},
			want:   "host path is required",
		},
		{
			name:   "relative host",
			mounts: []MountEntry{{Host: "data"}},
			want:   "not absolute",
		},
		{
			name:   "missing host",
			mounts: []MountEntry{{Host: "/does/not/exist"}},
			want:   "does not exist",
		},
		{
			name: "duplicate guest",
			mounts: []MountEntry{
				{Host: "/opt/a", Guest: "/data"},
				{Host: "/opt/b", Guest: "/data"},
			},
			want: "already used by sandbox.extra_mounts[0]",
		},
		{
			name:   "relative guest",
			mounts: []MountEntry{{Host: "/opt/a", Guest: "data"}},
			want:   "not absolute",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resolver := testResolver("/opt/a", "/opt/b")
			_, err := resolver.Resolve(&FileConfig{Mounts: tc.mounts})
			if !IsConfigError(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestResolveHostCommands(t *testing.T) {
	t.Parallel()

	resolved, err := testResolver().Resolve(&FileConfig{
		HostCommands: []string{"just", "cargo", "go"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(resolved.HostCommands, []string{"just", "cargo", "go"}) {
		t.Errorf("host_commands = %v", resolved.HostCommands)
	}

	_, err = testResolver().Resolve(&FileConfig{
		HostCommands: []string{"just", "../sbin/evil"},
	})
	if !IsConfigError(err) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if !strings.Contains(err.Error(), "sandbox.host_commands[1]") {
		t.Errorf("err = %v, want it to name the entry", err)
	}
}

func TestResolveNetwork(t *testing.T) {
	t.Parallel()

	resolved, err := testResolver().Resolve(&FileConfig{
		Network: &NetworkFileConfig{
			Policy:         stringPtr("deny"),
			AllowedDomains: []string{"api.anthropic.com", "*.github.com"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Network.Policy != PolicyDeny {
		t.Errorf("policy = %s, want deny", resolved.Network.Policy)
	}

	cases := []struct {
		name    string
		network *NetworkFileConfig
		want    string
	}{
		{
			name:    "unknown policy",
			network: &NetworkFileConfig{Policy: stringPtr("block")},
			want:    "unknown policy",
		},
		{
			name:    "deny without domains",
			network: &NetworkFileConfig{Policy: stringPtr("deny")},
			want:    "blocks all egress",
		},
		{
			name: "malformed domain",
			network: &NetworkFileConfig{
				Policy:         stringPtr("deny"),
				AllowedDomains: []string{"bad_domain!"},
			},
			want: "invalid domain pattern",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := testResolver().Resolve(&FileConfig{Network: tc.network})
			if !IsConfigError(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestResolveContainer(t *testing.T) {
	t.Parallel()

	resolved, err := testResolver().Resolve(&FileConfig{
		Container: &ContainerFileConfig{
			Runtime: stringPtr("podman"),
			RPCHost: stringPtr("10.0.2.2"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Container.Runtime != "podman" {
		t.Errorf("runtime = %s", resolved.Container.Runtime)
	}
	if resolved.Container.RPCHost != "10.0.2.2" {
		t.Errorf("rpc host = %s", resolved.Container.RPCHost)
	}

	_, err = testResolver().Resolve(&FileConfig{
		Container: &ContainerFileConfig{Runtime: stringPtr("lxc")},
	})
	if !IsConfigError(err) || !strings.Contains(err.Error(), "unknown runtime") {
		t.Errorf("err = %v, want unknown runtime ConfigError", err)
	}
}

func TestResolveVM(t *testing.T) {
	t.Parallel()

	script := "/home/dev/provision.sh"
	resolved, err := testResolver(script).Resolve(&FileConfig{
		VM: &VMFileConfig{
			Isolation:            stringPtr("shared"),
			ProjectsDir:          stringPtr("~/code"),
			CPUs:                 intPtr(2),
			MemoryGiB:            intPtr(4),
			DiskGiB:              intPtr(32),
			ProvisionScript:      stringPtr("~/provision.sh"),
			SkipDefaultProvision: boolPtr(true),
			Toolchain:            stringPtr("devbox"),
			SeedFiles:            map[string]string{".claude.json": "~/seeds/claude.json"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	vm := resolved.VM
	if vm.Isolation != IsolationShared || vm.ProjectsDir != "/home/dev/code" {
		t.Errorf("isolation = %s projects_dir = %s", vm.Isolation, vm.ProjectsDir)
	}
	if vm.CPUs != 2 || vm.MemoryGiB != 4 || vm.DiskGiB != 32 {
		t.Errorf("resources = %d/%d/%d", vm.CPUs, vm.MemoryGiB, vm.DiskGiB)
	}
	if vm.ProvisionScript != script || !vm.SkipDefaultProvision {
		t.Errorf("provision = %q skip = %v", vm.ProvisionScript, vm.SkipDefaultProvision)
	}
	if vm.Toolchain != ToolchainDevbox {
		t.Errorf("toolchain = %s", vm.Toolchain)
	}
	if vm.SeedFiles[".claude.json"] != "/home/dev/seeds/claude.json" {
		t.Errorf("seed source = %s", vm.SeedFiles[".claude.json"])
	}
}

func TestResolveVMErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		vm   *VMFileConfig
		want string
	}{
		{
			name: "shared without projects dir",
			vm:   &VMFileConfig{Isolation: stringPtr("shared")},
			want: "sandbox.vm.projects_dir",
		},
		{
			name: "unknown isolation",
			vm:   &VMFileConfig{Isolation: stringPtr("none")},
			want: "unknown isolation",
		},
		{
			name: "zero cpus",
			vm:   &VMFileConfig{CPUs: intPtr(0)},
			want: "must be positive",
		},
		{
			name: "negative disk",
			vm:   &VMFileConfig{DiskGiB: intPtr(-1)},
			want: "must be positive",
		},
		{
			name: "missing provision script",
			vm:   &VMFileConfig{ProvisionScript: stringPtr("/no/such/script.sh")},
			want: "script does not exist",
		},
		{
			name: "unknown toolchain",
			vm:   &VMFileConfig{Toolchain: stringPtr("asdf")},
			want: "unknown toolchain mode",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := testResolver().Resolve(&FileConfig{VM: tc.vm})
			if !IsConfigError(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestResolveUnknownEnums(t *testing.T) {
	t.Parallel()

	if _, err := testResolver().Resolve(&FileConfig{Backend: stringPtr("chroot")}); !IsConfigError(err) {
		t.Errorf("backend: err = %v, want ConfigError", err)
	}
	if _, err := testResolver().Resolve(&FileConfig{Scope: stringPtr("everything")}); !IsConfigError(err) {
		t.Errorf("scope: err = %v, want ConfigError", err)
	}
}
