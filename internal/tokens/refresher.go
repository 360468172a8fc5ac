// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tokens renews storage destination credentials ahead of expiry.
// The oauth2 transport refreshes lazily on its own; this job forces the
// renewal early and off the upload path, and surfaces broken credentials
// before an ingest tick trips over them.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/paperchase/collector/internal/notify"
	"github.com/paperchase/collector/internal/scheduler"
)

// refreshLockWait bounds how long the refresher waits for an in-flight
// upload holding the destination lock.
const refreshLockWait = 30 * time.Second

// Publisher surfaces credential failures to operators. Implemented by
// notify.Notifier.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload map[string]string) error
}

// Refresher force-renews OAuth tokens for every HTTP storage destination.
type Refresher struct {
	configs  map[string]*clientcredentials.Config // keyed by destination ID
	locker   scheduler.Locker
	notifier Publisher
}

// NewRefresher creates a token refresher for the given destination
// credential configs.
func NewRefresher(configs map[string]*clientcredentials.Config, locker scheduler.Locker, notifier Publisher) *Refresher {
	return &Refresher{
		configs:  configs,
		locker:   locker,
		notifier: notifier,
	}
}

// RunTick refreshes every destination once. The per-destination lock is
// shared with the ingest pipeline, so a refresh never races an upload
// using the stale token.
func (r *Refresher) RunTick(ctx context.Context) error {
	var firstErr error
	failed := 0

	for destID, cfg := range r.configs {
		if err := r.refreshDestination(ctx, destID, cfg); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d destinations failed to refresh; first: %w", failed, len(r.configs), firstErr)
	}
	return nil
}

func (r *Refresher) refreshDestination(ctx context.Context, destID string, cfg *clientcredentials.Config) error {
	acquired, err := scheduler.AwaitLock(ctx, r.locker, "dest:"+destID, refreshLockWait)
	if err != nil {
		return fmt.Errorf("destination %s lock: %w", destID, err)
	}
	if !acquired {
		slog.Info("skipping token refresh, destination busy", "destination", destID)
		return nil
	}
	defer func() {
		if err := r.locker.Release(ctx, "dest:"+destID); err != nil {
			slog.Warn("destination lock release failed", "destination", destID, "error", err)
		}
	}()

	token, err := cfg.Token(ctx)
	if err != nil {
		slog.Error("token refresh failed", "destination", destID, "error", err)
		if pubErr := r.notifier.Publish(ctx, notify.KindOperatorAlert, map[string]string{
			"destination": destID,
			"stage":       "refresh-tokens",
			"class":       "auth",
			"error":       err.Error(),
		}); pubErr != nil {
			slog.Error("failed to publish credential alert", "destination", destID, "error", pubErr)
		}
		return fmt.Errorf("refresh destination %s: %w", destID, err)
	}

	slog.Info("token refreshed",
		"destination", destID,
		"expires_at", token.Expiry,
	)
	return nil
}
