// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package cache

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/streamsentry/internal/logging"
)

// WithSessionCreateLock serializes session creation for one
// (server, sessionKey) between the poller and the push processor: SET NX EX
// with a per-holder token; on success op runs and the lock is always
// released; on contention ErrLockNotAcquired comes back and the caller skips
// creation (the holder will create the session).
//
// Release checks the token before deleting so an op that outlives the 5 s
// TTL cannot delete the next holder's lock. The GET/DEL pair is not atomic;
// the window is accepted because the DB's at-most-one-live unique index
// backstops correctness.
func (c *Cache) WithSessionCreateLock(ctx context.Context, serverID, sessionKey string, op func(ctx context.Context) error) error {
	key := keyCreateLock + serverID + ":" + sessionKey
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, createLockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire create lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		held, err := c.client.Get(ctx, key).Result()
		if err == nil && held == token {
			if err := c.client.Del(ctx, key).Err(); err != nil {
				logging.Warn().
					Str("component", "cache").
					Str("key", key).
					Err(err).
					Msg("failed to release create lock; TTL will expire it")
			}
		}
	}()

	return op(ctx)
}
