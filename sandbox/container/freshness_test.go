// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

const testImage = "ghcr.io/bureau-foundation/warren-agent:latest"

// fakeEngine scripts the engine CLI: which images exist locally and
// whether pulls succeed. It records every command it sees.
type fakeEngine struct {
	local    map[string]bool
	pullErr  error
	commands []string
}

func (f *fakeEngine) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.commands = append(f.commands, strings.Join(append([]string{name}, args...), " "))
	switch {
	case slices.Equal(args[:2], []string{"image", "inspect"}):
		if f.local[args[2]] {
			return []byte("[]"), nil
		}
		return nil, errors.New("no such image")
	case args[0] == "pull":
		if f.pullErr != nil {
			return nil, f.pullErr
		}
		f.local[args[1]] = true
		return nil, nil
	}
	return nil, errors.New("unexpected command")
}

func (f *fakeEngine) pulls() int {
	n := 0
	for _, cmd := range f.commands {
		if strings.Contains(cmd, " pull ") {
			n++
		}
	}
	return n
}

func newEnsurer(t *testing.T, engine *fakeEngine, clk clock.Clock) *ImageEnsurer {
	t.Helper()
	return &ImageEnsurer{
		Engine:    EngineDocker,
		Run:       engine.run,
		CachePath: filepath.Join(t.TempDir(), "pulls.cbor"),
		Clock:     clk,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestEnsurePullsMissingImage(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{local: map[string]bool{}}
	ensurer := newEnsurer(t, engine, clock.Fake(time.Unix(1700000000, 0)))

	if err := ensurer.Ensure(context.Background(), testImage); err != nil {
		t.Fatal(err)
	}
	if engine.pulls() != 1 {
		t.Errorf("pulls = %d, want 1", engine.pulls())
	}
}

func TestEnsureSkipsFreshImage(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(time.Unix(1700000000, 0))
	engine := &fakeEngine{local: map[string]bool{}}
	ensurer := newEnsurer(t, engine, clk)

	if err := ensurer.Ensure(context.Background(), testImage); err != nil {
		t.Fatal(err)
	}
	clk.Advance(RefreshInterval / 2)
	if err := ensurer.Ensure(context.Background(), testImage); err != nil {
		t.Fatal(err)
	}
	if engine.pulls() != 1 {
		t.Errorf("pulls = %d, want 1 (second ensure within the interval)", engine.pulls())
	}
}

func TestEnsureRepullsStaleImage(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(time.Unix(1700000000, 0))
	engine := &fakeEngine{local: map[string]bool{}}
	ensurer := newEnsurer(t, engine, clk)

	if err := ensurer.Ensure(context.Background(), testImage); err != nil {
		t.Fatal(err)
	}
	clk.Advance(RefreshInterval + time.Minute)
	if err := ensurer.Ensure(context.Background(), testImage); err != nil {
		t.Fatal(err)
	}
	if engine.pulls() != 2 {
		t.Errorf("pulls = %d, want 2", engine.pulls())
	}
}

func TestEnsureOfflineFallsBackToLocal(t *testing.T) {
	t.Parallel()

	// The image exists locally but the registry is unreachable.
	engine := &fakeEngine{
		local:   map[string]bool{testImage: true},
		pullErr: errors.New("dial tcp: network unreachable"),
	}
	ensurer := newEnsurer(t, engine, clock.Fake(time.Unix(1700000000, 0)))

	if err := ensurer.Ensure(context.Background(), testImage); err != nil {
		t.Fatalf("Ensure = %v, want local fallback", err)
	}
}

func TestEnsureMissingImageUnpullable(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		local:   map[string]bool{},
		pullErr: errors.New("denied"),
	}
	ensurer := newEnsurer(t, engine, clock.Fake(time.Unix(1700000000, 0)))

	if err := ensurer.Ensure(context.Background(), testImage); err == nil {
		t.Fatal("Ensure succeeded with no image and a failing pull")
	}
}
