// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the warren CLI.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function. The root tree is assembled in cmd/warren/commands and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3). This is
// implemented in suggest.go.
//
// [FlagsFromParams] binds a tagged params struct to a flag set, so
// leaf commands declare their flags as struct fields instead of
// repeating pflag registration calls. [ExitError] carries exit codes
// from commands whose non-zero exit is a result rather than an error
// (run relaying the guest exit code, host-exec relaying the host
// command's, sandbox doctor reporting failed checks).
package cli
