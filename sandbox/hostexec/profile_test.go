// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"slices"
	"testing"
)

func TestDefaultProfile(t *testing.T) {
	t.Parallel()

	profile := DefaultProfile()
	if !slices.Contains(profile.DenyReadDirs, ".ssh") {
		t.Errorf("DenyReadDirs = %v, missing .ssh", profile.DenyReadDirs)
	}
	if !slices.Contains(profile.DenyReadDirs, ".config/gcloud") {
		t.Errorf("DenyReadDirs = %v, missing .config/gcloud", profile.DenyReadDirs)
	}
	if !slices.Contains(profile.DenyReadFiles, ".netrc") {
		t.Errorf("DenyReadFiles = %v, missing .netrc", profile.DenyReadFiles)
	}
	if !slices.Contains(profile.AllowWriteDirs, ".cache") {
		t.Errorf("AllowWriteDirs = %v, missing .cache", profile.AllowWriteDirs)
	}
}

func TestParseProfile(t *testing.T) {
	t.Parallel()

	profile, err := ParseProfile([]byte("deny_read_dirs:\n  - .secrets\n"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{".secrets"}; !slices.Equal(profile.DenyReadDirs, want) {
		t.Errorf("DenyReadDirs = %v, want %v", profile.DenyReadDirs, want)
	}
	if profile.DenyReadFiles != nil {
		t.Errorf("DenyReadFiles = %v, want nil for absent key", profile.DenyReadFiles)
	}
}

func TestParseProfileRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	if _, err := ParseProfile([]byte("deny_raed_dirs:\n  - .ssh\n")); err == nil {
		t.Error("misspelled key accepted")
	}
}

func TestParseProfileEmpty(t *testing.T) {
	t.Parallel()

	profile, err := ParseProfile(nil)
	if err != nil {
		t.Fatal(err)
	}
	if profile == nil {
		t.Fatal("nil profile")
	}
}

func TestProfileMerge(t *testing.T) {
	t.Parallel()

	base := DefaultProfile()
	defaultWrites := slices.Clone(base.AllowWriteDirs)

	// A defined key replaces the default set; an empty list clears
	// it; an absent key keeps the default.
	override, err := ParseProfile([]byte("deny_read_dirs:\n  - .private\ndeny_read_files: []\n"))
	if err != nil {
		t.Fatal(err)
	}
	base.merge(override)

	if want := []string{".private"}; !slices.Equal(base.DenyReadDirs, want) {
		t.Errorf("DenyReadDirs = %v, want %v", base.DenyReadDirs, want)
	}
	if len(base.DenyReadFiles) != 0 || base.DenyReadFiles == nil {
		t.Errorf("DenyReadFiles = %#v, want cleared (empty, non-nil)", base.DenyReadFiles)
	}
	if !slices.Equal(base.AllowWriteDirs, defaultWrites) {
		t.Errorf("AllowWriteDirs = %v, want defaults %v", base.AllowWriteDirs, defaultWrites)
	}
}
