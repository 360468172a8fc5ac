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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "collector:lock:"

// releaseScript deletes the lock only if this process still holds it, so a
// slow run cannot release a lock the stale timeout already handed to the
// next tick.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker enforces at-most-one-concurrent-instance per named resource
// using SET NX with a stale-lock TTL.
type RedisLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	token string
}

// NewRedisLocker creates a locker whose locks expire after the stale
// timeout, so an abandoned run cannot block scheduling forever.
func NewRedisLocker(rdb *redis.Client, staleTimeout time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:   rdb,
		ttl:   staleTimeout,
		token: uuid.New().String(),
	}
}

// Acquire attempts to take the named lock. Returns false when another run
// holds it.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockPrefix+name, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release frees the named lock if this locker still owns it.
func (l *RedisLocker) Release(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{lockPrefix + name}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
