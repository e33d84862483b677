// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/warren/lib/codec"
)

// Record is the persistent state of one VM. Records are the source of
// truth for what warren created: limactl knows whether an instance
// exists and runs, but only the record knows the resources it was
// created with, which credential directories it mounts, and whether
// provisioning completed.
type Record struct {
	Name        string `cbor:"name"`
	ProjectRoot string `cbor:"project_root,omitempty"` // empty under shared isolation
	CPUs        int    `cbor:"cpus"`
	MemoryGiB   int    `cbor:"memory_gib"`
	DiskGiB     int    `cbor:"disk_gib"`

	// Provisioned is set only after every provisioning phase has
	// succeeded. A false value on an existing record means a previous
	// attempt failed and the next Ensure retries from phase one.
	Provisioned bool   `cbor:"provisioned"`
	LastError   string `cbor:"last_error,omitempty"`

	// CredentialMounts maps agent type to the host directory mounted
	// into the guest for that agent's credentials.
	CredentialMounts map[string]string `cbor:"credential_mounts,omitempty"`

	CreatedAt time.Time `cbor:"created_at"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

// Registry stores one CBOR file per VM record in a directory.
// Mutations across processes are serialized with Lock; individual
// reads and writes are atomic on their own (writes go through a
// rename).
type Registry struct {
	dir string
}

// NewRegistry returns a registry rooted at dir. The directory is
// created on first write.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the registry directory.
func (r *Registry) Dir() string {
	return r.dir
}

const recordSuffix = ".cbor"

func (r *Registry) recordPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid VM name: %q", name)
	}
	return filepath.Join(r.dir, name+recordSuffix), nil
}

// Get loads the record for name. The second return is false when no
// record exists.
func (r *Registry) Get(name string) (Record, bool, error) {
	path, err := r.recordPath(name)
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := codec.ReadFile(path, &rec); err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read VM record %s: %w", name, err)
	}
	return rec, true, nil
}

// Put persists rec, replacing any existing record of the same name.
func (r *Registry) Put(rec Record) error {
	path, err := r.recordPath(rec.Name)
	if err != nil {
		return err
	}
	if err := codec.WriteFile(path, rec); err != nil {
		return fmt.Errorf("write VM record %s: %w", rec.Name, err)
	}
	return nil
}

// Delete removes the record for name. Deleting a record that does not
// exist is not an error.
func (r *Registry) Delete(name string) error {
	path, err := r.recordPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete VM record %s: %w", name, err)
	}
	return nil
}

// List returns all records sorted by name.
func (r *Registry) List() ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry %s: %w", r.dir, err)
	}
	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		var rec Record
		if err := codec.ReadFile(filepath.Join(r.dir, entry.Name()), &rec); err != nil {
			return nil, fmt.Errorf("read VM record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Lock takes an exclusive advisory lock on the registry, blocking
// until it is available. Concurrent supervisors contending for a
// shared VM serialize creation and provisioning through this lock;
// the loser of the race finds a provisioned record and reuses it.
// The returned function releases the lock.
func (r *Registry) Lock() (release func(), err error) {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry %s: %w", r.dir, err)
	}
	file, err := os.OpenFile(filepath.Join(r.dir, "lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open registry lock: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("lock registry: %w", err)
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}
