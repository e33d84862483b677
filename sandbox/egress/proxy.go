// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package egress

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// headerLimit caps the CONNECT request size. A legitimate CONNECT
	// with credentials fits in a few hundred bytes.
	headerLimit = 8 << 10

	// headerTimeout bounds how long a connection may sit idle before
	// completing its CONNECT handshake.
	headerTimeout = 5 * time.Second

	// proxyUser is the fixed username in proxy credentials; the
	// password carries the session token.
	proxyUser = "warren"

	// tunnelPort is the only destination port the proxy will dial.
	tunnelPort = "443"
)

// Proxy is the host-side CONNECT proxy for deny-policy sandboxes.
type Proxy struct {
	// Dial opens the upstream connection. Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	// Lookup resolves the tunnel target. Defaults to net.DefaultResolver.
	Lookup func(ctx context.Context, host string) ([]netip.Addr, error)

	// Deny, when set, observes each policy refusal: host is the
	// requested tunnel target when the request got far enough to name
	// one, reason is the refusal cause. The guest still sees only a
	// closed socket.
	Deny func(host, reason string)

	listener  net.Listener
	allowlist *Allowlist
	token     []byte
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewProxy creates a proxy serving on listener. The caller binds the
// listener so the address is known before any guest starts. Token is
// the session token guests present as the proxy password.
func NewProxy(listener net.Listener, allowlist *Allowlist, token string, logger *slog.Logger) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &Proxy{
		Dial: dialer.DialContext,
		Lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
		listener:  listener,
		allowlist: allowlist,
		token:     []byte(token),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Addr returns the proxy's listen address.
func (p *Proxy) Addr() net.Addr {
	return p.listener.Addr()
}

// Port returns the listener's TCP port.
func (p *Proxy) Port() int {
	if addr, ok := p.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve accepts connections until the listener fails or Close is
// called; Close makes it return nil.
func (p *Proxy) Serve() error {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("egress accept: %w", err)
		}
		p.track(conn)
		p.wg.Add(1)
		go p.handleConn(conn)
	}
}

// Close stops the proxy and tears down active tunnels.
func (p *Proxy) Close() error {
	p.cancel()
	err := p.listener.Close()
	p.mu.Lock()
	for conn := range p.conns {
		conn.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return err
}

func (p *Proxy) track(conn net.Conn) {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
}

func (p *Proxy) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}

// handleConn processes one guest connection. Every refusal path
// returns without writing a byte: the guest sees a closed socket, not
// a status line that would reveal what the policy admits.
func (p *Proxy) handleConn(conn net.Conn) {
	defer p.wg.Done()
	defer p.untrack(conn)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(headerTimeout))
	limited := &io.LimitedReader{R: conn, N: headerLimit}
	reader := bufio.NewReaderSize(limited, headerLimit)
	req, err := http.ReadRequest(reader)
	if err != nil {
		p.logger.Debug("egress: unreadable request", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})
	limited.N = math.MaxInt64

	if req.Method != http.MethodConnect {
		p.logger.Info("egress: refused non-CONNECT request", "method", req.Method)
		p.deny("", "method "+req.Method)
		return
	}
	if !p.authorized(req) {
		p.logger.Warn("egress: bad proxy credentials")
		p.deny("", "bad credentials")
		return
	}
	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		p.logger.Info("egress: malformed tunnel target", "target", req.Host)
		p.deny(req.Host, "malformed target")
		return
	}
	if port != tunnelPort {
		p.logger.Info("egress: refused non-TLS port", "host", host, "port", port)
		p.deny(host, "port "+port)
		return
	}
	if _, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		p.logger.Info("egress: refused IP literal", "address", host)
		p.deny(host, "ip literal")
		return
	}
	if !p.allowlist.Match(host) {
		p.logger.Info("egress: domain not in allowlist", "host", host)
		p.deny(host, "not in allowlist")
		return
	}

	upstream := p.dialChecked(host)
	if upstream == nil {
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		return
	}
	p.logger.Debug("egress: tunnel open", "host", host)
	tunnel(conn, reader, upstream)
}

// dialChecked resolves host and connects to the first address that
// answers. If any resolved address lands in a blocked range the whole
// request is refused: a name that resolves to both a public and a
// private address is trying to get the private one dialed eventually.
func (p *Proxy) dialChecked(host string) net.Conn {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	addrs, err := p.Lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		p.logger.Info("egress: resolution failed", "host", host, "error", err)
		return nil
	}
	for _, addr := range addrs {
		if BlockedAddr(addr) {
			p.logger.Warn("egress: domain resolves into blocked range",
				"host", host, "address", addr.String())
			p.deny(host, "blocked address "+addr.String())
			return nil
		}
	}
	for _, addr := range addrs {
		target := netip.AddrPortFrom(addr.Unmap(), 443).String()
		upstream, err := p.Dial(ctx, "tcp", target)
		if err != nil {
			p.logger.Debug("egress: dial failed", "host", host, "address", target, "error", err)
			continue
		}
		return upstream
	}
	p.logger.Info("egress: all addresses unreachable", "host", host)
	return nil
}

func (p *Proxy) deny(host, reason string) {
	if p.Deny != nil {
		p.Deny(host, reason)
	}
}

// authorized checks Proxy-Authorization: Basic credentials against the
// session token in constant time.
func (p *Proxy) authorized(req *http.Request) bool {
	scheme, encoded, ok := strings.Cut(req.Header.Get("Proxy-Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(proxyUser))
	passOK := subtle.ConstantTimeCompare([]byte(pass), p.token)
	return userOK&passOK == 1
}

// tunnel pumps bytes between the guest and the upstream until either
// side finishes. The guest side reads from the buffered reader so
// bytes the client pipelined behind its CONNECT are not lost.
func tunnel(client net.Conn, clientReader io.Reader, upstream net.Conn) {
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(upstream, clientReader)
		closeWrite(upstream)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(client, upstream)
		closeWrite(client)
		return err
	})
	g.Wait()
}

// closeWrite half-closes where the transport supports it, so the peer
// sees EOF while its own pending writes still drain.
func closeWrite(conn net.Conn) {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := conn.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}
