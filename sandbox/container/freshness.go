// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
	"github.com/bureau-foundation/warren/lib/codec"
)

// RefreshInterval is how long a pulled image stays fresh before the
// next session triggers a new pull.
const RefreshInterval = 24 * time.Hour

// pullCache records when each image was last pulled. It lives as a
// CBOR file in the state directory.
type pullCache struct {
	Pulled map[string]time.Time `cbor:"pulled"`
}

// ImageEnsurer makes sure a session's image is present and reasonably
// fresh before the container starts. A missing image is pulled; a
// present but stale one is re-pulled, and if that fails (offline,
// registry down) the session proceeds on the local copy with a
// warning.
type ImageEnsurer struct {
	Engine    Engine
	Run       Runner
	CachePath string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Ensure pulls image if it is absent or stale.
func (e *ImageEnsurer) Ensure(ctx context.Context, image string) error {
	exists := e.imageExists(ctx, image)

	var cache pullCache
	if err := codec.ReadFile(e.CachePath, &cache); err != nil && !os.IsNotExist(err) {
		e.Logger.Warn("image pull cache unreadable, ignoring", "path", e.CachePath, "error", err)
	}
	if cache.Pulled == nil {
		cache.Pulled = make(map[string]time.Time)
	}

	now := e.Clock.Now()
	if exists {
		if last, ok := cache.Pulled[image]; ok && now.Sub(last) < RefreshInterval {
			return nil
		}
	}

	e.Logger.Info("pulling image", "engine", e.Engine, "image", image)
	if _, err := e.Run(ctx, string(e.Engine), "pull", image); err != nil {
		if exists {
			e.Logger.Warn("image pull failed, using local copy", "image", image, "error", err)
			return nil
		}
		return fmt.Errorf("pull image %s: %w", image, err)
	}

	cache.Pulled[image] = now
	if err := codec.WriteFile(e.CachePath, cache); err != nil {
		e.Logger.Warn("image pull cache not updated", "path", e.CachePath, "error", err)
	}
	return nil
}

func (e *ImageEnsurer) imageExists(ctx context.Context, image string) bool {
	_, err := e.Run(ctx, string(e.Engine), "image", "inspect", image)
	return err == nil
}
