// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func renderMap(t *testing.T, template Template) map[string]any {
	t.Helper()
	out, err := RenderConfig(template)
	if err != nil {
		t.Fatal(err)
	}
	var config map[string]any
	if err := yaml.Unmarshal([]byte(out), &config); err != nil {
		t.Fatalf("rendered config does not parse: %v\n%s", err, out)
	}
	return config
}

func TestRenderConfigResources(t *testing.T) {
	t.Parallel()

	config := renderMap(t, Template{CPUs: 4, MemoryGiB: 8, DiskGiB: 64})
	if config["cpus"] != 4 {
		t.Errorf("cpus = %v", config["cpus"])
	}
	if config["memory"] != "8GiB" {
		t.Errorf("memory = %v", config["memory"])
	}
	if config["disk"] != "64GiB" {
		t.Errorf("disk = %v", config["disk"])
	}
}

func TestRenderConfigDefaultsOmitted(t *testing.T) {
	t.Parallel()

	config := renderMap(t, Template{})
	for _, key := range []string{"cpus", "memory", "disk"} {
		if _, present := config[key]; present {
			t.Errorf("%s present with zero value; Lima defaults should apply", key)
		}
	}
}

func TestRenderConfigPlatform(t *testing.T) {
	t.Parallel()

	config := renderMap(t, Template{})
	wantType := "qemu"
	if runtime.GOOS == "darwin" {
		wantType = "vz"
	}
	if config["vmType"] != wantType {
		t.Errorf("vmType = %v, want %v", config["vmType"], wantType)
	}

	images := config["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("images = %v", images)
	}
	image := images[0].(map[string]any)
	wantArch := "x86_64"
	if runtime.GOARCH == "arm64" {
		wantArch = "aarch64"
	}
	if image["arch"] != wantArch {
		t.Errorf("image arch = %v, want %v", image["arch"], wantArch)
	}
	if !strings.Contains(image["location"].(string), "debian-12-genericcloud") {
		t.Errorf("image location = %v", image["location"])
	}
}

func TestRenderConfigContainerdDisabled(t *testing.T) {
	t.Parallel()

	config := renderMap(t, Template{})
	containerd := config["containerd"].(map[string]any)
	if containerd["system"] != false || containerd["user"] != false {
		t.Errorf("containerd = %v, want disabled", containerd)
	}
}

func TestRenderConfigMounts(t *testing.T) {
	t.Parallel()

	config := renderMap(t, Template{Mounts: []Mount{
		{Host: "/code/project", Writable: true},
		{Host: "/home/dev/.claude", Guest: "/home/dev.linux/.claude", Writable: true},
		{Host: "/opt/data", Guest: "/opt/data"},
	}})

	mounts := config["mounts"].([]any)
	if len(mounts) != 3 {
		t.Fatalf("mounts = %v", mounts)
	}

	mirror := mounts[0].(map[string]any)
	if mirror["location"] != "/code/project" || mirror["writable"] != true {
		t.Errorf("mirror mount = %v", mirror)
	}
	if _, present := mirror["mountPoint"]; present {
		t.Error("mirror mount carries a redundant mountPoint")
	}

	mapped := mounts[1].(map[string]any)
	if mapped["mountPoint"] != "/home/dev.linux/.claude" {
		t.Errorf("mapped mount = %v", mapped)
	}

	// Guest equal to host collapses to a mirror mount.
	same := mounts[2].(map[string]any)
	if _, present := same["mountPoint"]; present {
		t.Error("identical guest path carries a redundant mountPoint")
	}
	if same["writable"] != false {
		t.Errorf("read-only mount writable = %v", same["writable"])
	}
}

func TestImagesByArch(t *testing.T) {
	t.Parallel()

	arm := images("arm64")
	if arm[0].Arch != "aarch64" || !strings.Contains(arm[0].Location, "arm64") {
		t.Errorf("arm64 image = %+v", arm[0])
	}
	amd := images("amd64")
	if amd[0].Arch != "x86_64" || !strings.Contains(amd[0].Location, "amd64") {
		t.Errorf("amd64 image = %+v", amd[0])
	}
}
