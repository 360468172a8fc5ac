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

// Package dedup provides idempotency keys backed by Redis SETNX with TTL.
// The ingest pipeline uses it to avoid processing the same message twice
// when a tick retries or overlaps a slow parser acknowledgement, and the
// reminder job uses it to send at most one reminder per request per day.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long we remember a seen key.
const DefaultTTL = 24 * time.Hour

// Filter tracks which keys have already been processed.
type Filter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewFilter creates a dedup filter namespaced under the given prefix
// (e.g. "collector:seen:").
func NewFilter(rdb *redis.Client, prefix string) *Filter {
	return &Filter{
		rdb:    rdb,
		prefix: prefix,
		ttl:    DefaultTTL,
	}
}

// IsNew returns true if the key has NOT been seen before.
// If true, the key is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, f.prefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// IsNewFor behaves like IsNew with an explicit TTL, used when the
// idempotency window differs from the default (reminders remember for a
// full day regardless of filter configuration).
func (f *Filter) IsNewFor(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := f.rdb.SetNX(ctx, f.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}
