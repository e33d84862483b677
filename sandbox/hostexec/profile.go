// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile describes what a jailed host command may touch. All paths
// are relative to the home directory of the invoking user. The deny
// sets cover credential material; the allow set covers caches that
// toolchains need to write even under a read-only root.
type Profile struct {
	DenyReadDirs   []string `yaml:"deny_read_dirs"`
	DenyReadFiles  []string `yaml:"deny_read_files"`
	AllowWriteDirs []string `yaml:"allow_write_dirs"`
}

// defaultProfileYAML contains the built-in jail profile.
const defaultProfileYAML = `
deny_read_dirs:
  - .ssh
  - .aws
  - .gnupg
  - .kube
  - .azure
  - .config/gcloud
  - .docker
deny_read_files:
  - .npmrc
  - .pypirc
  - .netrc
  - .gem/credentials
allow_write_dirs:
  - .cache
  - .cargo
  - .rustup
  - .npm
  - .local/state
  - .local/share/devbox
`

// DefaultProfile returns the built-in jail profile.
func DefaultProfile() *Profile {
	profile, err := ParseProfile([]byte(defaultProfileYAML))
	if err != nil {
		// The default is a compile-time constant; failing to parse it
		// is a programming error.
		panic(fmt.Sprintf("built-in jail profile invalid: %v", err))
	}
	return profile
}

// ParseProfile parses a jail profile from YAML. Unknown keys are
// rejected so a typo cannot silently weaken the profile.
func ParseProfile(data []byte) (*Profile, error) {
	var profile Profile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&profile); err != nil {
		if errors.Is(err, io.EOF) {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("parse jail profile: %w", err)
	}
	return &profile, nil
}

// ProfileSearchPaths returns the locations checked for a user profile,
// in priority order. The first existing file wins.
func ProfileSearchPaths() []string {
	var paths []string
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "warren", "jail.yaml"))
	}
	paths = append(paths, "/etc/warren/jail.yaml")
	return paths
}

// LoadProfile returns the jail profile: the built-in defaults, with
// any set that a user profile file defines replaced wholesale. A key
// written as an empty list clears that set; an absent key keeps the
// default.
func LoadProfile() (*Profile, error) {
	profile := DefaultProfile()
	for _, path := range ProfileSearchPaths() {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read jail profile %s: %w", path, err)
		}
		override, err := ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		profile.merge(override)
		break
	}
	return profile, nil
}

// merge applies an override profile. Only sets the override actually
// defines replace the receiver's.
func (p *Profile) merge(override *Profile) {
	if override.DenyReadDirs != nil {
		p.DenyReadDirs = override.DenyReadDirs
	}
	if override.DenyReadFiles != nil {
		p.DenyReadFiles = override.DenyReadFiles
	}
	if override.AllowWriteDirs != nil {
		p.AllowWriteDirs = override.AllowWriteDirs
	}
}
