// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"reflect"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/lib/testutil"
)

func testRecord(name string) Record {
	return Record{
		Name:        name,
		ProjectRoot: "/code/project",
		CPUs:        4,
		MemoryGiB:   8,
		DiskGiB:     64,
		Provisioned: true,
		CredentialMounts: map[string]string{
			"claude": "/home/dev/.claude",
		},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		UpdatedAt: time.Unix(1700003600, 0).UTC(),
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	want := testRecord("wn-abc123def456")
	if err := registry.Put(want); err != nil {
		t.Fatal(err)
	}

	got, found, err := registry.Get("wn-abc123def456")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("record not found after Put")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	_, found, err := registry.Get("wn-nope")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("found a record in an empty registry")
	}
}

func TestRegistryRejectsTraversalNames(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
		if _, _, err := registry.Get(name); err == nil {
			t.Errorf("Get(%q) accepted an invalid name", name)
		}
		if err := registry.Put(Record{Name: name}); err == nil {
			t.Errorf("Put(%q) accepted an invalid name", name)
		}
	}
}

func TestRegistryListSorted(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	for _, name := range []string{"wn-ccc", "wn-aaa", "wn-bbb"} {
		if err := registry.Put(testRecord(name)); err != nil {
			t.Fatal(err)
		}
	}

	records, err := registry.List()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, record := range records {
		names = append(names, record.Name)
	}
	want := []string{"wn-aaa", "wn-bbb", "wn-ccc"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List order = %v, want %v", names, want)
	}
}

func TestRegistryListEmpty(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	records, err := registry.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("List on missing dir = %v", records)
	}
}

func TestRegistryDelete(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	if err := registry.Put(testRecord("wn-gone")); err != nil {
		t.Fatal(err)
	}
	if err := registry.Delete("wn-gone"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := registry.Get("wn-gone"); found {
		t.Error("record survives Delete")
	}

	// Idempotent.
	if err := registry.Delete("wn-gone"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRegistryLockExcludes(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir())
	release, err := registry.Lock()
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := registry.Lock()
		if err != nil {
			t.Error(err)
			close(acquired)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	testutil.RequireReceive(t, acquired, "lock handoff after release")
}
