// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// onboardingState primes the agent CLI inside a fresh VM so its first
// run skips interactive onboarding.
const onboardingState = `{"hasCompletedOnboarding":true,"bypassPermissionsModeAccepted":true}`

// onboardingStateFile is where the agent phase of provisioning looks
// for the seed.
const onboardingStateFile = ".claude.json"

// Seeder copies credential and state files into a VM's host-side
// state directory before first use. Destinations that already exist
// are left alone: each VM evolves its own copies independently, and a
// re-seed must never clobber tokens the agent refreshed in place.
type Seeder struct {
	// Identities decrypt seed sources ending in .age.
	Identities []age.Identity
}

// LoadIdentities reads age identities from the file at path. A
// missing file yields no identities, which only matters if an
// encrypted seed is later configured.
func LoadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parse age identities %s: %w", path, err)
	}
	return identities, nil
}

// Seed populates stateDir with the onboarding state plus each
// configured seed, keyed by destination path relative to stateDir.
// Sources ending in .age are decrypted first. Destination paths are
// confined to stateDir regardless of what the configuration says.
func (s *Seeder) Seed(stateDir string, seeds map[string]string) error {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	if err := writeIfMissing(filepath.Join(stateDir, onboardingStateFile), []byte(onboardingState)); err != nil {
		return err
	}

	dests := make([]string, 0, len(seeds))
	for dest := range seeds {
		dests = append(dests, dest)
	}
	sort.Strings(dests)

	for _, dest := range dests {
		source := seeds[dest]
		target, err := securejoin.SecureJoin(stateDir, dest)
		if err != nil {
			return fmt.Errorf("seed destination %q: %w", dest, err)
		}
		data, err := os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("read seed %s: %w", source, err)
		}
		if strings.HasSuffix(source, ".age") {
			if len(s.Identities) == 0 {
				return fmt.Errorf("seed %s is encrypted but no age identities are configured", source)
			}
			reader, err := age.Decrypt(bytes.NewReader(data), s.Identities...)
			if err != nil {
				return fmt.Errorf("decrypt seed %s: %w", source, err)
			}
			if data, err = io.ReadAll(reader); err != nil {
				return fmt.Errorf("decrypt seed %s: %w", source, err)
			}
		}
		if err := writeIfMissing(target, data); err != nil {
			return err
		}
	}
	return nil
}

func writeIfMissing(path string, data []byte) error {
	if _, err := os.Lstat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write seed %s: %w", path, err)
	}
	return nil
}
