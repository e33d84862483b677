// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"slices"
	"testing"
)

func havePaths(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		if slices.Contains(names, name) {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
}

func TestDetectEngine(t *testing.T) {
	t.Parallel()

	// Docker wins when both are installed.
	engine, err := DetectEngine(havePaths("docker", "podman"))
	if err != nil {
		t.Fatal(err)
	}
	if engine != EngineDocker {
		t.Errorf("engine = %s, want docker", engine)
	}

	engine, err = DetectEngine(havePaths("podman"))
	if err != nil {
		t.Fatal(err)
	}
	if engine != EnginePodman {
		t.Errorf("engine = %s, want podman", engine)
	}

	if _, err := DetectEngine(havePaths()); err == nil {
		t.Error("no engine installed, want error")
	}
}
