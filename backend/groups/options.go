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
	"log"
	"os"
	"time"
)

const (
	// DefaultRotationInterval is how long a sender key may be used.
	DefaultRotationInterval = 7 * 24 * time.Hour
	// DefaultMaxChainLength is the number of messages sent under one sender key.
	DefaultMaxChainLength = 2000
	// DefaultCacheSize bounds the number of cached group sessions.
	DefaultCacheSize = 256
)

type config struct {
	logger           *log.Logger
	rotationInterval time.Duration
	maxChainLength   uint64
	cacheSize        int
	now              func() time.Time
}

func defaultConfig() config {
	return config{
		logger:           log.New(os.Stderr, "[groups] ", log.LstdFlags),
		rotationInterval: DefaultRotationInterval,
		maxChainLength:   DefaultMaxChainLength,
		cacheSize:        DefaultCacheSize,
		now:              time.Now,
	}
}

// Option configures a Manager.
type Option func(*config)

// WithLogger sets the logger. Key material and plaintext are never logged.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRotationInterval sets the lifetime of new sender keys.
func WithRotationInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.rotationInterval = d
		}
	}
}

// WithMaxChainLength sets how many messages a sender key may encrypt
// before it is rotated.
func WithMaxChainLength(n uint64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChainLength = n
		}
	}
}

// WithCacheSize bounds the session cache.
func WithCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
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
