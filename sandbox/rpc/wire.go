// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageSize is the largest request or response line the protocol
// accepts: 1 MiB. A compromised guest could otherwise force the host
// to buffer an arbitrarily large line before parsing it. Oversized
// lines are rejected without being parsed.
const MaxMessageSize = 1 << 20

// Verb names carried in the request envelope.
const (
	VerbSetStatus  = "set_status"
	VerbSetTitle   = "set_title"
	VerbHeartbeat  = "heartbeat"
	VerbSpawnAgent = "spawn_agent"
	VerbExec       = "exec"
	VerbMerge      = "merge"
)

// Request is the envelope for every guest-to-host message. The token
// authenticates the session; it is validated before the verb is
// dispatched.
type Request struct {
	Token   string          `json:"token"`
	Verb    string          `json:"verb"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope for every host-to-guest message. Exactly
// one of Result or Error is meaningful, selected by OK.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SetStatusPayload updates the status indicator of the pane that owns
// this session.
type SetStatusPayload struct {
	Status string `json:"status"`
}

// SetTitlePayload updates the title of the pane that owns this
// session.
type SetTitlePayload struct {
	Title string `json:"title"`
}

// SpawnAgentPayload asks the host to create a new agent workspace.
// Flags carries additional command-line flags from the guest
// invocation; the supervisor validates them against the set permitted
// from inside a sandbox and rejects host-only flags.
type SpawnAgentPayload struct {
	Branch string   `json:"branch,omitempty"`
	Prompt string   `json:"prompt,omitempty"`
	Flags  []string `json:"flags,omitempty"`
}

// SpawnAgentResult reports the workspace the host created.
type SpawnAgentResult struct {
	Workspace string `json:"workspace"`
}

// MergePayload asks the host to merge a workspace branch. Flags are
// passed through to the merge collaborator; the supervisor forces
// hooks and verification off regardless of their contents.
type MergePayload struct {
	Branch string   `json:"branch"`
	Flags  []string `json:"flags,omitempty"`
}

// MergeResult carries the merge collaborator's output for display in
// the guest.
type MergeResult struct {
	Output string `json:"output,omitempty"`
}

// ExecPayload asks the host to run an allow-listed command. Dir, when
// set, is a path relative to the workspace root; the host refuses
// absolute paths and paths escaping the workspace.
type ExecPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// ExecOutput is a streaming result frame for the exec verb.
type ExecOutput struct {
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

// ExecExit is the terminal result frame for the exec verb.
type ExecExit struct {
	ExitCode int `json:"exit_code"`
}

// Output stream names used in ExecOutput frames.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Protocol-level rejection causes. The server wraps these into error
// responses; the client surfaces them via RemoteError.
var (
	ErrInvalidToken    = errors.New("invalid session token")
	ErrMessageTooLarge = errors.New("message exceeds size limit")
	ErrMalformed       = errors.New("malformed request")
	ErrUnknownVerb     = errors.New("unknown verb")
)

// RemoteError is an error response received from the peer.
type RemoteError struct {
	Verb    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Verb == "" {
		return fmt.Sprintf("rpc: %s", e.Message)
	}
	return fmt.Sprintf("rpc %s: %s", e.Verb, e.Message)
}

// encodeLine marshals v and appends the line delimiter.
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// okResponse builds a success envelope around result. A nil result
// produces {"ok":true}.
func okResponse(result any) (Response, error) {
	resp := Response{OK: true}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return Response{}, err
		}
		resp.Result = data
	}
	return resp, nil
}

// errorResponse builds a failure envelope. The message is the only
// information that crosses the boundary: internal error chains stay
// on the host.
func errorResponse(message string) Response {
	return Response{OK: false, Error: message}
}
