// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"path/filepath"
	"strings"
)

// passthroughVars are the only host environment variables a jailed
// command inherits. Everything else - API keys, tokens, editor state -
// is dropped.
var passthroughVars = []string{
	"PATH",
	"HOME",
	"USER",
	"LOGNAME",
	"TMPDIR",
	"TERM",
	"COLORTERM",
	"LANG",
	"LC_ALL",
}

// fallbackPath is used when the host PATH is empty or contains no
// absolute entries after sanitation.
const fallbackPath = "/usr/local/bin:/usr/bin:/bin"

// SanitizeEnv builds the child environment from the host environment.
// Only passthroughVars survive, PATH is reduced to its absolute
// entries, and HOME is forced to home when provided. The result is
// ordered by passthroughVars, so it is stable for a given input.
func SanitizeEnv(environ []string, home string) []string {
	host := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			host[key] = value
		}
	}
	if home != "" {
		host["HOME"] = home
	}

	env := make([]string, 0, len(passthroughVars))
	for _, key := range passthroughVars {
		value, ok := host[key]
		if key == "PATH" {
			// PATH is always present in the child, even when the
			// host had none.
			value, ok = sanitizePath(value), true
		}
		if !ok {
			continue
		}
		env = append(env, key+"="+value)
	}
	return env
}

// sanitizePath keeps only absolute PATH entries. Relative entries (and
// the empty entry, which means the current directory) would let a file
// planted in the worktree shadow a real host binary.
func sanitizePath(path string) string {
	var kept []string
	for _, dir := range strings.Split(path, string(filepath.ListSeparator)) {
		if filepath.IsAbs(dir) {
			kept = append(kept, dir)
		}
	}
	if len(kept) == 0 {
		return fallbackPath
	}
	return strings.Join(kept, string(filepath.ListSeparator))
}
