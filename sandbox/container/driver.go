// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"sort"
)

// Mount is one bind mount into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Options describes a session container.
type Options struct {
	// Image is the container image reference.
	Image string

	// Name is the container name, used for teardown and inspection.
	Name string

	// Worktree is the agent worktree, mounted read-write at its host
	// path and used as the working directory.
	Worktree string

	// MetadataDir, when non-empty, is the main repository's git
	// directory, mounted read-write at its host path. A linked
	// worktree's `.git` file points here; commits from the worktree
	// write objects and refs through it.
	MetadataDir string

	// Mounts are additional operator-configured binds.
	Mounts []Mount

	// Env is the guest environment: the control-channel coordinates,
	// proxy settings, and sandbox marker.
	Env map[string]string

	// User is the uid:gid the agent runs as, so files created in the
	// worktree belong to the invoking user. Empty keeps the image's
	// default user.
	User string

	// Interactive allocates a TTY; set when the container is a pane
	// command.
	Interactive bool

	// HostGateway publishes the host's gateway address inside the
	// container as host.docker.internal, which is how the guest
	// reaches the control channel and the egress proxy.
	HostGateway bool

	// Command overrides the image's default command.
	Command []string
}

func (o *Options) validate() error {
	if o.Image == "" {
		return fmt.Errorf("image is required")
	}
	if o.Name == "" {
		return fmt.Errorf("container name is required")
	}
	if o.Worktree == "" {
		return fmt.Errorf("worktree is required")
	}
	return nil
}

// RunArgs builds the full engine invocation for a session container.
// The result is handed to the multiplexer as a pane command, so it is
// a plain argv, not a started process.
func RunArgs(engine Engine, opts *Options) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	args := []string{string(engine), "run", "--rm", "--name", opts.Name}
	if opts.Interactive {
		args = append(args, "--interactive", "--tty")
	}
	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	if opts.HostGateway {
		args = append(args, "--add-host", "host.docker.internal:host-gateway")
	}

	args = append(args, "--mount", bindMount(Mount{Source: opts.Worktree, Target: opts.Worktree}))
	if opts.MetadataDir != "" {
		args = append(args, "--mount", bindMount(Mount{
			Source: opts.MetadataDir,
			Target: opts.MetadataDir,
		}))
	}
	for _, mount := range opts.Mounts {
		args = append(args, "--mount", bindMount(mount))
	}

	keys := make([]string, 0, len(opts.Env))
	for key := range opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--env", key+"="+opts.Env[key])
	}

	args = append(args, "--workdir", opts.Worktree, opts.Image)
	args = append(args, opts.Command...)
	return args, nil
}

func bindMount(m Mount) string {
	spec := fmt.Sprintf("type=bind,source=%s,target=%s", m.Source, m.Target)
	if m.ReadOnly {
		spec += ",readonly"
	}
	return spec
}
