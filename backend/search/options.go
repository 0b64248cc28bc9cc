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

package search

import (
	"log"
	"os"
	"time"

	"github.com/efchatnet/eftrust/backend/search/bloom"
	"github.com/efchatnet/eftrust/backend/storage"
)

const (
	// MinSearchLength is the shortest indexed or queried term, in runes.
	MinSearchLength = 2
	// MaxContentTokens bounds how much extracted content is indexed.
	MaxContentTokens = 500
	// MaxSearchResults is the default and maximum page size.
	MaxSearchResults = 100
	// CacheTTL is how long search results stay cached.
	CacheTTL = 5 * time.Minute
	// NgramSize is the length of the n-grams used for fuzzy matching.
	NgramSize = 3
)

// Score weights.
const (
	ExactMatchScore = 10
	BloomMatchScore = 5
	NgramMatchScore = 2
)

type config struct {
	logger           *log.Logger
	cache            storage.SearchCache
	cacheTTL         time.Duration
	bloomM           uint64
	bloomK           uint64
	maxContentTokens int
	now              func() time.Time
}

func defaultConfig() config {
	return config{
		logger:           log.New(os.Stderr, "[search] ", log.LstdFlags),
		cacheTTL:         CacheTTL,
		bloomM:           bloom.DefaultM,
		bloomK:           bloom.DefaultK,
		maxContentTokens: MaxContentTokens,
		now:              time.Now,
	}
}

// Option configures an Engine.
type Option func(*config)

// WithLogger sets the logger. Terms and metadata are never logged.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCache replaces the default in-process result cache, e.g. with one
// shared through Redis.
func WithCache(cache storage.SearchCache) Option {
	return func(c *config) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithCacheTTL sets how long cached results stay valid.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithBloomParameters sets the Bloom filter size in bits and hash count
// used for newly generated indexes.
func WithBloomParameters(m, k uint64) Option {
	return func(c *config) {
		if m > 0 && k > 0 {
			c.bloomM, c.bloomK = m, k
		}
	}
}

// WithMaxContentTokens limits how many content tokens are indexed.
func WithMaxContentTokens(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxContentTokens = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
