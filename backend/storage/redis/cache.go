// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/eftrust/backend/storage"
)

const (
	// Redis key prefixes
	cachePrefix     = "search:cache:" // search:cache:{userId}:{key} - sealed results
	cacheKeysPrefix = "search:keys:"  // search:keys:{userId} - set of live cache keys

	// DefaultCacheTTL applies when Set is called with a zero ttl.
	DefaultCacheTTL = 5 * time.Minute
)

// SearchCache stores sealed search results in Redis. Values are opaque to
// the cache; expiry is enforced by Redis TTLs.
type SearchCache struct {
	rdb *redis.Client
}

var _ storage.SearchCache = (*SearchCache)(nil)

func NewSearchCache(rdb *redis.Client) *SearchCache {
	return &SearchCache{rdb: rdb}
}

func entryKey(userID, key string) string {
	return cachePrefix + userID + ":" + key
}

func (c *SearchCache) Get(ctx context.Context, userID, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, entryKey(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return data, nil
}

// Set stores value and records its key so InvalidateUser can find it.
func (c *SearchCache) Set(ctx context.Context, userID, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	keysKey := cacheKeysPrefix + userID
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(userID, key), value, ttl)
		pipe.SAdd(ctx, keysKey, key)
		// The key set outlives every entry it lists.
		pipe.Expire(ctx, keysKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// InvalidateUser drops every cached result of userID.
func (c *SearchCache) InvalidateUser(ctx context.Context, userID string) error {
	keysKey := cacheKeysPrefix + userID
	keys, err := c.rdb.SMembers(ctx, keysKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}
	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, entryKey(userID, k))
	}
	del = append(del, keysKey)
	if err := c.rdb.Del(ctx, del...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// CleanupExpiredEntries removes keys of expired entries from the per-user
// key sets. This should be run periodically as a background job.
func (c *SearchCache) CleanupExpiredEntries(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, cacheKeysPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keysKey := iter.Val()
		userID := keysKey[len(cacheKeysPrefix):]

		keys, err := c.rdb.SMembers(ctx, keysKey).Result()
		if err != nil {
			continue
		}
		for _, k := range keys {
			if c.rdb.Exists(ctx, entryKey(userID, k)).Val() == 0 {
				c.rdb.SRem(ctx, keysKey, k)
			}
		}
	}
	return iter.Err()
}
