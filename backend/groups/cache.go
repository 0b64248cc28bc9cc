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

package groups

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/efchatnet/eftrust/backend/models"
)

const lockStripes = 64

// stripedLocks serializes work per group. Stripes are fixed, so a session
// that was evicted from the cache and reloaded still maps to the same lock.
type stripedLocks [lockStripes]sync.Mutex

func (l *stripedLocks) forGroup(groupID string) *sync.Mutex {
	return &l[xxhash.Sum64String(groupID)%lockStripes]
}

// sessionCache is a bounded LRU of group sessions. Cached sessions are
// treated as immutable: writers replace the entry instead of editing it.
type sessionCache struct {
	lru *lru.Cache[string, *models.GroupSession]
}

func newSessionCache(size int) *sessionCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// New only fails for a non-positive size.
	c, _ := lru.New[string, *models.GroupSession](size)
	return &sessionCache{lru: c}
}

func (c *sessionCache) get(groupID string) (*models.GroupSession, bool) {
	return c.lru.Get(groupID)
}

func (c *sessionCache) put(session *models.GroupSession) {
	c.lru.Add(session.GroupID, session)
}

func (c *sessionCache) len() int {
	return c.lru.Len()
}
