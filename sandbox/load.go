// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// projectConfigNames are the recognized project configuration files,
// checked in order at the project root.
var projectConfigNames = []string{"warren.yaml", "warren.jsonc"}

// GlobalConfigPath returns $XDG_CONFIG_HOME/warren/config.yaml,
// defaulting to ~/.config/warren/config.yaml.
func GlobalConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "warren", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "warren", "config.yaml"), nil
}

// StateRoot returns $XDG_STATE_HOME/warren, defaulting to
// ~/.local/state/warren. VM registries, session state, credential
// stores, and audit logs live under it.
func StateRoot() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "warren"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "warren"), nil
}

// LoadFile reads the sandbox section of the configuration file at
// path. The rest of the document (workspace layout, hooks, everything
// that is not ours) is ignored; unknown keys inside the sandbox
// section are errors. A missing file is an empty configuration.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &FileConfig{}, nil
	}
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("reading %s", path), Err: err}
	}
	if strings.HasSuffix(path, ".jsonc") {
		data = jsonc.ToJSON(data)
	}

	var document struct {
		Sandbox yaml.Node `yaml:"sandbox"`
	}
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("parsing %s", path), Err: err}
	}
	if document.Sandbox.IsZero() {
		return &FileConfig{}, nil
	}

	// Re-encode the section and decode it strictly, so a misspelled
	// key inside `sandbox:` fails loudly instead of being dropped.
	section, err := yaml.Marshal(&document.Sandbox)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("re-encoding %s", path), Err: err}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(section))
	decoder.KnownFields(true)

	var cfg FileConfig
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{
			Reason: fmt.Sprintf("parsing sandbox section of %s", path),
			Err:    err,
		}
	}
	return &cfg, nil
}

// LoadProject reads the project configuration at root, trying each
// recognized file name. No file means an empty configuration.
func LoadProject(root string) (*FileConfig, error) {
	for _, name := range projectConfigNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return &FileConfig{}, nil
}

// LoadMerged loads global and project configuration, strips
// global-only settings from the project side, and merges. The result
// still needs Resolve before use.
func LoadMerged(projectRoot string, logger *slog.Logger) (*FileConfig, error) {
	globalPath, err := GlobalConfigPath()
	if err != nil {
		return nil, &ConfigError{Reason: "locating global config", Err: err}
	}
	global, err := LoadFile(globalPath)
	if err != nil {
		return nil, err
	}
	project, err := LoadProject(projectRoot)
	if err != nil {
		return nil, err
	}
	project.DropGlobalOnly(logger)
	return Merge(global, project), nil
}
