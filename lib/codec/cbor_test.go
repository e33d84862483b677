// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name    string `cbor:"name"`
	Count   int    `cbor:"count"`
	Enabled bool   `cbor:"enabled"`
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	in := sample{Name: "wn-4fa2c91d08be", Count: 4, Enabled: true}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()

	in := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}
	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	t.Parallel()

	// A "future" record with an extra field decodes into the current
	// struct shape without error.
	data, err := Marshal(map[string]any{
		"name":        "wn-shared",
		"count":       1,
		"enabled":     false,
		"added_later": "surprise",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != "wn-shared" || out.Count != 1 {
		t.Errorf("decoded %+v, want name wn-shared count 1", out)
	}
}

func TestAnyMapType(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"inner": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("decoded top-level type %T, want map[string]any", out)
	}
	if _, ok := top["inner"].(map[string]any); !ok {
		t.Fatalf("decoded inner type %T, want map[string]any", top["inner"])
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "record.cbor")
	in := sample{Name: "wn-4f2a91", Count: 7}
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	var out sample
	if err := ReadFile(path, &out); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the record", len(entries))
	}
}

func TestReadFileMissing(t *testing.T) {
	t.Parallel()

	var out sample
	err := ReadFile(filepath.Join(t.TempDir(), "absent.cbor"), &out)
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want IsNotExist", err)
	}
}
