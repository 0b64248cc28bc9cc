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

package memory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/efchatnet/eftrust/backend/storage"
)

// SecretStore keeps secrets in process memory. It is meant for tests and
// for hosts that supply their own at-rest protection.
type SecretStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

var _ storage.LocalSecretStore = (*SecretStore)(nil)

func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string][]byte)}
}

func (s *SecretStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *SecretStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (s *SecretStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}

// DefaultMaxCacheEntries bounds a SearchCache created with a zero size.
const DefaultMaxCacheEntries = 1024

type cacheEntry struct {
	userID    string
	value     []byte
	expiresAt time.Time
}

// SearchCache is a bounded in-process result cache. Expired entries are
// never returned; the least recently used entry is evicted when full.
// Entries carry their own TTL, so expiry is checked here rather than by an
// expirable LRU with one TTL for all.
type SearchCache struct {
	entries *lru.Cache[string, cacheEntry]

	mu  sync.Mutex
	now func() time.Time
}

var _ storage.SearchCache = (*SearchCache)(nil)

func NewSearchCache(maxEntries int) *SearchCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	entries, _ := lru.New[string, cacheEntry](maxEntries)
	return &SearchCache{entries: entries, now: time.Now}
}

// SetClock replaces the time source.
func (c *SearchCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *SearchCache) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func cacheID(userID, key string) string {
	return userID + "\x00" + key
}

func (c *SearchCache) Get(ctx context.Context, userID, key string) ([]byte, error) {
	id := cacheID(userID, key)
	e, ok := c.entries.Get(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !c.clock().Before(e.expiresAt) {
		c.entries.Remove(id)
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (c *SearchCache) Set(ctx context.Context, userID, key string, value []byte, ttl time.Duration) error {
	c.entries.Add(cacheID(userID, key), cacheEntry{
		userID:    userID,
		value:     append([]byte(nil), value...),
		expiresAt: c.clock().Add(ttl),
	})
	return nil
}

func (c *SearchCache) InvalidateUser(ctx context.Context, userID string) error {
	for _, id := range c.entries.Keys() {
		if e, ok := c.entries.Peek(id); ok && e.userID == userID {
			c.entries.Remove(id)
		}
	}
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *SearchCache) Len() int {
	return c.entries.Len()
}
