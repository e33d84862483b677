// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Mount maps a host path into the guest. An empty Guest mirrors the
// host path at the same location inside the VM.
type Mount struct {
	Host     string
	Guest    string
	Writable bool
}

// Template describes everything baked into a VM at creation time.
// Resources and mounts cannot change on a live instance; the VM must
// be deleted and recreated to apply a different Template.
type Template struct {
	CPUs      int
	MemoryGiB int
	DiskGiB   int
	Mounts    []Mount
}

// Debian genericcloud images: about half the download of the Ubuntu
// images Lima defaults to, and boot straight to cloud-init.
const (
	imageAMD64 = "https://cloud.debian.org/images/cloud/bookworm/latest/debian-12-genericcloud-amd64.qcow2"
	imageARM64 = "https://cloud.debian.org/images/cloud/bookworm/latest/debian-12-genericcloud-arm64.qcow2"
)

type limaImage struct {
	Location string `yaml:"location"`
	Arch     string `yaml:"arch"`
}

type limaRosetta struct {
	Enabled bool `yaml:"enabled"`
	Binfmt  bool `yaml:"binfmt"`
}

type limaVZ struct {
	Rosetta limaRosetta `yaml:"rosetta"`
}

type limaVMOpts struct {
	VZ limaVZ `yaml:"vz"`
}

type limaContainerd struct {
	System bool `yaml:"system"`
	User   bool `yaml:"user"`
}

type limaMount struct {
	Location   string `yaml:"location"`
	MountPoint string `yaml:"mountPoint,omitempty"`
	Writable   bool   `yaml:"writable"`
}

type limaConfig struct {
	VMType     string         `yaml:"vmType"`
	VMOpts     *limaVMOpts    `yaml:"vmOpts,omitempty"`
	Images     []limaImage    `yaml:"images"`
	CPUs       int            `yaml:"cpus,omitempty"`
	Memory     string         `yaml:"memory,omitempty"`
	Disk       string         `yaml:"disk,omitempty"`
	Containerd limaContainerd `yaml:"containerd"`
	Mounts     []limaMount    `yaml:"mounts"`
}

// RenderConfig produces the Lima configuration YAML for a new VM.
// Zero resource values are omitted so Lima applies its own defaults.
func RenderConfig(t Template) (string, error) {
	config := limaConfig{
		Images: images(runtime.GOARCH),
		CPUs:   t.CPUs,
		// containerd is unused by warren and adds tens of seconds to
		// first boot.
		Containerd: limaContainerd{System: false, User: false},
	}
	if t.MemoryGiB > 0 {
		config.Memory = fmt.Sprintf("%dGiB", t.MemoryGiB)
	}
	if t.DiskGiB > 0 {
		config.Disk = fmt.Sprintf("%dGiB", t.DiskGiB)
	}

	if runtime.GOOS == "darwin" {
		config.VMType = "vz"
		if runtime.GOARCH == "arm64" {
			// Rosetta lets x86-only developer tools run inside the
			// ARM guest.
			config.VMOpts = &limaVMOpts{
				VZ: limaVZ{Rosetta: limaRosetta{Enabled: true, Binfmt: true}},
			}
		}
	} else {
		config.VMType = "qemu"
	}

	for _, mount := range t.Mounts {
		entry := limaMount{Location: mount.Host, Writable: mount.Writable}
		if mount.Guest != "" && mount.Guest != mount.Host {
			entry.MountPoint = mount.Guest
		}
		config.Mounts = append(config.Mounts, entry)
	}

	out, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("render lima config: %w", err)
	}
	return string(out), nil
}

func images(goarch string) []limaImage {
	if goarch == "arm64" {
		return []limaImage{{Location: imageARM64, Arch: "aarch64"}}
	}
	return []limaImage{{Location: imageAMD64, Arch: "x86_64"}}
}
