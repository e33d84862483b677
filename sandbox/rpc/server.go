// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxConnections caps concurrent connections per session. One
	// guest needs a handful (status updates plus a long-running exec
	// or two); anything beyond this is a misbehaving peer.
	maxConnections = 16

	// preAuthTimeout bounds how long a connection may sit without a
	// successfully authenticated request. Cleared after the first
	// authenticated request so a long-lived idle connection from the
	// real guest stays usable.
	preAuthTimeout = 5 * time.Second

	// writeTimeout bounds each response write. A guest that stops
	// reading does not get to pin a handler goroutine forever.
	writeTimeout = 30 * time.Second
)

// Handler dispatches authenticated requests. Implementations decide
// verb semantics; the server owns framing, authentication, and
// connection discipline.
type Handler interface {
	SetStatus(ctx context.Context, payload SetStatusPayload) error
	SetTitle(ctx context.Context, payload SetTitlePayload) error
	Heartbeat(ctx context.Context) error
	SpawnAgent(ctx context.Context, payload SpawnAgentPayload) (SpawnAgentResult, error)
	Merge(ctx context.Context, payload MergePayload) (MergeResult, error)

	// Exec runs an allow-listed host command, writing incremental
	// output to stream, and returns the child's exit code. A non-nil
	// error makes the server send a protocol-level error response
	// instead of an exit frame; rejections that mimic shell behavior
	// (not allowed, not found) should instead write a diagnostic to
	// the stream and return the conventional exit code.
	Exec(ctx context.Context, payload ExecPayload, stream ExecStream) (int, error)
}

// ExecStream receives incremental exec output. Both methods are safe
// for concurrent use; stdout and stderr are pumped by separate
// goroutines.
type ExecStream interface {
	Stdout(data []byte) error
	Stderr(data []byte) error
}

// Server accepts guest connections and dispatches verbs to a Handler.
type Server struct {
	listener net.Listener
	token    []byte
	handler  Handler
	logger   *slog.Logger

	limiter *rate.Limiter
	slots   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer returns a Server reading from an already-bound listener.
// The listener is bound by the caller before the guest starts, so the
// endpoint can be injected into the guest environment.
func NewServer(listener net.Listener, token string, handler Handler, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: listener,
		token:    []byte(token),
		handler:  handler,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(maxConnections), maxConnections*2),
		slots:    make(chan struct{}, maxConnections),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listener's TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve accepts connections until Close is called or the listener
// fails. Always returns a nil error after Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("rpc accept: %w", err)
		}

		if !s.limiter.Allow() {
			s.logger.Warn("rpc connection rejected by rate limit",
				"remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		select {
		case s.slots <- struct{}{}:
		default:
			s.logger.Warn("rpc connection rejected, connection cap reached",
				"remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			defer s.untrack(conn)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting, closes in-flight connections, cancels
// handler contexts, and waits for handlers to return.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConnection reads requests line by line and dispatches them in
// arrival order. The connection is closed on the first protocol
// violation: oversized line, malformed JSON, or token mismatch.
func (s *Server) handleConnection(conn net.Conn) {
	writer := &lineWriter{conn: conn}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	authenticated := false
	_ = conn.SetReadDeadline(time.Now().Add(preAuthTimeout))

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var request Request
		if err := json.Unmarshal(line, &request); err != nil {
			s.logger.Warn("rpc malformed request", "remote", conn.RemoteAddr())
			_ = writer.writeResponse(errorResponse(ErrMalformed.Error()))
			return
		}

		// Constant-time comparison: a guest probing the token must
		// not learn anything from response timing.
		if subtle.ConstantTimeCompare([]byte(request.Token), s.token) != 1 {
			s.logger.Warn("rpc invalid token", "remote", conn.RemoteAddr(),
				"verb", request.Verb)
			_ = writer.writeResponse(errorResponse(ErrInvalidToken.Error()))
			return
		}

		if !authenticated {
			authenticated = true
			_ = conn.SetReadDeadline(time.Time{})
		}

		if !s.dispatch(request, writer) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		switch {
		case errors.Is(err, bufio.ErrTooLong):
			s.logger.Warn("rpc oversized message rejected",
				"remote", conn.RemoteAddr(), "limit", MaxMessageSize)
			_ = writer.writeResponse(errorResponse(ErrMessageTooLarge.Error()))
		case errors.Is(err, net.ErrClosed):
		default:
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Debug("rpc connection timed out before authentication",
					"remote", conn.RemoteAddr())
				return
			}
			s.logger.Debug("rpc connection read error",
				"remote", conn.RemoteAddr(), "error", err)
		}
	}
}

// dispatch decodes the payload and invokes the handler. Returns false
// when the connection should be closed.
func (s *Server) dispatch(request Request, writer *lineWriter) bool {
	ctx := s.ctx

	respond := func(result any, err error) bool {
		if err != nil {
			return writer.writeResponse(errorResponse(err.Error())) == nil
		}
		response, marshalErr := okResponse(result)
		if marshalErr != nil {
			s.logger.Error("rpc result marshaling failed",
				"verb", request.Verb, "error", marshalErr)
			return writer.writeResponse(errorResponse("internal error")) == nil
		}
		return writer.writeResponse(response) == nil
	}

	switch request.Verb {
	case VerbHeartbeat:
		return respond(nil, s.handler.Heartbeat(ctx))

	case VerbSetStatus:
		var payload SetStatusPayload
		if err := json.Unmarshal(request.Payload, &payload); err != nil {
			return respond(nil, fmt.Errorf("%w: %s payload", ErrMalformed, request.Verb))
		}
		return respond(nil, s.handler.SetStatus(ctx, payload))

	case VerbSetTitle:
		var payload SetTitlePayload
		if err := json.Unmarshal(request.Payload, &payload); err != nil {
			return respond(nil, fmt.Errorf("%w: %s payload", ErrMalformed, request.Verb))
		}
		return respond(nil, s.handler.SetTitle(ctx, payload))

	case VerbSpawnAgent:
		var payload SpawnAgentPayload
		if err := json.Unmarshal(request.Payload, &payload); err != nil {
			return respond(nil, fmt.Errorf("%w: %s payload", ErrMalformed, request.Verb))
		}
		result, err := s.handler.SpawnAgent(ctx, payload)
		if err != nil {
			return respond(nil, err)
		}
		return respond(result, nil)

	case VerbMerge:
		var payload MergePayload
		if err := json.Unmarshal(request.Payload, &payload); err != nil {
			return respond(nil, fmt.Errorf("%w: %s payload", ErrMalformed, request.Verb))
		}
		result, err := s.handler.Merge(ctx, payload)
		if err != nil {
			return respond(nil, err)
		}
		return respond(result, nil)

	case VerbExec:
		var payload ExecPayload
		if err := json.Unmarshal(request.Payload, &payload); err != nil {
			return respond(nil, fmt.Errorf("%w: %s payload", ErrMalformed, request.Verb))
		}
		stream := &execStream{writer: writer}
		exitCode, err := s.handler.Exec(ctx, payload, stream)
		if err != nil {
			return respond(nil, err)
		}
		return respond(ExecExit{ExitCode: exitCode}, nil)

	default:
		return respond(nil, fmt.Errorf("%w: %q", ErrUnknownVerb, request.Verb))
	}
}

// lineWriter serializes response lines onto the connection. The mutex
// matters for exec: stdout and stderr pumps write frames concurrently.
type lineWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *lineWriter) writeResponse(response Response) error {
	data, err := encodeLine(response)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = w.conn.Write(data)
	return err
}

// execStream adapts output chunks into streaming result frames.
type execStream struct {
	writer *lineWriter
}

func (s *execStream) Stdout(data []byte) error {
	return s.send(StreamStdout, data)
}

func (s *execStream) Stderr(data []byte) error {
	return s.send(StreamStderr, data)
}

func (s *execStream) send(stream string, data []byte) error {
	response, err := okResponse(ExecOutput{Stream: stream, Data: string(data)})
	if err != nil {
		return err
	}
	return s.writer.writeResponse(response)
}
