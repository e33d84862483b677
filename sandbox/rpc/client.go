// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// dialTimeout bounds connection establishment. The supervisor is on
// the same host (or the VM's host gateway), so anything slower than
// this means the session is gone.
const dialTimeout = 10 * time.Second

// Client speaks the bridge protocol from inside a guest. Each call
// opens its own connection: requests on one connection are processed
// in order, so independent connections are what give concurrent calls
// (a long exec does not block a status update).
type Client struct {
	address string
	token   string
}

// NewClient returns a Client for the supervisor at host:port using
// the given session token.
func NewClient(host string, port int, token string) *Client {
	return &Client{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		token:   token,
	}
}

// SetStatus updates the owning pane's status indicator.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	_, err := c.call(ctx, VerbSetStatus, SetStatusPayload{Status: status})
	return err
}

// SetTitle updates the owning pane's title.
func (c *Client) SetTitle(ctx context.Context, title string) error {
	_, err := c.call(ctx, VerbSetTitle, SetTitlePayload{Title: title})
	return err
}

// Heartbeat reports liveness.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.call(ctx, VerbHeartbeat, nil)
	return err
}

// SpawnAgent asks the host to create a new agent workspace.
func (c *Client) SpawnAgent(ctx context.Context, payload SpawnAgentPayload) (SpawnAgentResult, error) {
	raw, err := c.call(ctx, VerbSpawnAgent, payload)
	if err != nil {
		return SpawnAgentResult{}, err
	}
	var result SpawnAgentResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return SpawnAgentResult{}, fmt.Errorf("decoding spawn_agent result: %w", err)
		}
	}
	return result, nil
}

// Merge asks the host to merge a workspace branch.
func (c *Client) Merge(ctx context.Context, payload MergePayload) (MergeResult, error) {
	raw, err := c.call(ctx, VerbMerge, payload)
	if err != nil {
		return MergeResult{}, err
	}
	var result MergeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return MergeResult{}, fmt.Errorf("decoding merge result: %w", err)
		}
	}
	return result, nil
}

// Exec runs an allow-listed host command, copying streamed output to
// stdout and stderr, and returns the command's exit code. The
// connection stays open for the duration of the command.
func (c *Client) Exec(ctx context.Context, payload ExecPayload, stdout, stderr io.Writer) (int, error) {
	conn, scanner, err := c.send(ctx, VerbExec, payload)
	if err != nil {
		return -1, err
	}
	defer conn.Close()

	for scanner.Scan() {
		response, err := decodeResponse(scanner.Bytes())
		if err != nil {
			return -1, err
		}
		if !response.OK {
			return -1, &RemoteError{Verb: VerbExec, Message: response.Error}
		}

		// A result frame is either streamed output or the terminal
		// exit frame; the exit frame ends the exchange.
		var frame struct {
			Stream   string `json:"stream"`
			Data     string `json:"data"`
			ExitCode *int   `json:"exit_code"`
		}
		if err := json.Unmarshal(response.Result, &frame); err != nil {
			return -1, fmt.Errorf("decoding exec frame: %w", err)
		}
		if frame.ExitCode != nil {
			return *frame.ExitCode, nil
		}

		switch frame.Stream {
		case StreamStdout:
			if _, err := io.WriteString(stdout, frame.Data); err != nil {
				return -1, err
			}
		case StreamStderr:
			if _, err := io.WriteString(stderr, frame.Data); err != nil {
				return -1, err
			}
		default:
			return -1, fmt.Errorf("exec frame with unknown stream %q", frame.Stream)
		}
	}
	if err := scanner.Err(); err != nil {
		return -1, fmt.Errorf("reading exec stream: %w", err)
	}
	return -1, fmt.Errorf("exec stream ended without exit frame")
}

// call performs a single request/response exchange.
func (c *Client) call(ctx context.Context, verb string, payload any) (json.RawMessage, error) {
	conn, scanner, err := c.send(ctx, verb, payload)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s response: %w", verb, err)
		}
		return nil, fmt.Errorf("connection closed before %s response", verb)
	}
	response, err := decodeResponse(scanner.Bytes())
	if err != nil {
		return nil, err
	}
	if !response.OK {
		return nil, &RemoteError{Verb: verb, Message: response.Error}
	}
	return response.Result, nil
}

// send dials, writes one request line, and returns the connection
// with a size-capped line scanner positioned at the response stream.
// Cancellation of ctx closes the connection, unblocking reads.
func (c *Client) send(ctx context.Context, verb string, payload any) (net.Conn, *bufio.Scanner, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing supervisor at %s: %w", c.address, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	cleanup := func() {
		stop()
		conn.Close()
	}

	request := Request{Token: c.token, Verb: verb}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("encoding %s payload: %w", verb, err)
		}
		request.Payload = data
	}

	line, err := encodeLine(request)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("encoding %s request: %w", verb, err)
	}
	if _, err := conn.Write(line); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("sending %s request: %w", verb, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)
	return &stopOnClose{Conn: conn, stop: stop}, scanner, nil
}

// stopOnClose releases the context watcher when the caller closes the
// connection.
type stopOnClose struct {
	net.Conn
	stop func() bool
}

func (c *stopOnClose) Close() error {
	c.stop()
	return c.Conn.Close()
}

func decodeResponse(line []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(line, &response); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	return response, nil
}
