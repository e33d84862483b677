// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bureau-foundation/warren/lib/clock"
)

// Entry is one audit record. Host command requests carry Command,
// Args, Dir, Exit, and Jailed; denied command entries never reached
// the jail, so Jailed is false and Exit is ExitNotAllowed. Refused
// egress tunnels share the stream and carry Host and Reason instead,
// with Denied always set.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Command string    `json:"command,omitempty"`
	Args    []string  `json:"args,omitempty"`
	Dir     string    `json:"dir,omitempty"`
	Exit    int       `json:"exit"`
	Jailed  bool      `json:"jailed"`
	Denied  bool      `json:"denied,omitempty"`
	Host    string    `json:"host,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Audit appends host command decisions to a JSON-lines file. Entries
// carry ULIDs, so the file is sortable by ID even when merged across
// sessions.
type Audit struct {
	mu      sync.Mutex
	path    string
	clock   clock.Clock
	entropy *ulid.MonotonicEntropy
}

// NewAudit creates an audit log writing to path. The parent directory
// is created on first record.
func NewAudit(path string, clk clock.Clock) *Audit {
	return &Audit{
		path:    path,
		clock:   clk,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Path returns the audit log location.
func (a *Audit) Path() string {
	return a.path
}

// Record stamps entry with an ID and timestamp and appends it.
func (a *Audit) Record(entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), a.entropy)
	if err != nil {
		return fmt.Errorf("generate audit id: %w", err)
	}
	entry.ID = id.String()
	entry.Time = now.UTC()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write audit entry: %w", err)
	}
	return f.Close()
}

// ReadAudit loads all entries from an audit log. A missing file is an
// empty log. Unparsable lines are skipped rather than failing the
// whole read; a crashed writer can leave a torn final line.
func ReadAudit(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}
