// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Engine is a container engine CLI.
type Engine string

const (
	EngineDocker Engine = "docker"
	EnginePodman Engine = "podman"
)

// DetectEngine finds an installed container engine, preferring docker.
// lookPath is exec.LookPath unless a test substitutes it.
func DetectEngine(lookPath func(string) (string, error)) (Engine, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, engine := range []Engine{EngineDocker, EnginePodman} {
		if _, err := lookPath(string(engine)); err == nil {
			return engine, nil
		}
	}
	return "", fmt.Errorf("no container engine found (tried docker, podman)")
}

// Runner executes an engine command and returns its stdout. The
// default implementation shells out; tests substitute a fake.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run is the default Runner. Stderr is folded into the error so
// engine diagnostics survive into logs.
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, args[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
