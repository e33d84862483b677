// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
)

// ConfigError reports configuration that cannot produce a session: a
// mount source that does not exist, a malformed allowlist entry, an
// unknown enum value. Raised before any guest starts; never retried.
type ConfigError struct {
	// Setting is the configuration key path, like
	// "sandbox.extra_mounts[1]". Empty when the problem spans keys.
	Setting string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := "sandbox config"
	if e.Setting != "" {
		msg += " " + e.Setting
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(setting, format string, args ...any) error {
	return &ConfigError{Setting: setting, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a configuration problem, as
// opposed to a backend or runtime failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// BackendError reports a failure of the isolation machinery itself:
// the container engine, limactl, image pulls, VM provisioning.
type BackendError struct {
	Backend BackendKind
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// RPCError reports a control-channel failure on the host side:
// binding the listener, serving, or the egress proxy.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("control channel %s: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// HostExecError reports that the host-exec machinery itself broke
// while serving a guest request. Rejections (command not allowlisted,
// not found) are not errors; they surface as shell-style exit codes.
type HostExecError struct {
	Command string
	Err     error
}

func (e *HostExecError) Error() string {
	return fmt.Sprintf("host exec %s: %v", e.Command, e.Err)
}

func (e *HostExecError) Unwrap() error { return e.Err }
