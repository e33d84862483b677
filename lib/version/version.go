// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the warren binary.
package version

import "runtime/debug"

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/bureau-foundation/warren/lib/version.Version=v0.3.0".
var Version = "dev"

// Full returns the version plus the VCS revision when the binary was
// built from a checkout with build info embedded.
func Full() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	revision := ""
	dirty := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return Version
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += "-dirty"
	}
	return Version + " (" + revision + ")"
}
