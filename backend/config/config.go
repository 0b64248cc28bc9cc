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

// Package config reads process configuration from the environment, after
// loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultDatabaseURL      = "postgres://localhost/eftrust?sslmode=disable"
	DefaultRedisURL         = "localhost:6379"
	DefaultJWTIssuer        = "efchat"
	DefaultPort             = "8081"
	DefaultPurgeInterval    = time.Hour
	DefaultTombstoneMaxAge  = 30 * 24 * time.Hour
	DefaultDirectoryBaseURL = "http://localhost:8081"
)

// ErrMissingJWTSecret is returned by Validate when JWT_SECRET is unset.
var ErrMissingJWTSecret = errors.New("JWT_SECRET environment variable is required")

type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	JWTIssuer   string
	Port        string

	// PurgeInterval is how often tombstoned search indexes and expired
	// cache bookkeeping are cleaned up. Zero disables the job.
	PurgeInterval   time.Duration
	TombstoneMaxAge time.Duration

	// DirectoryURL is where clients such as vaultctl find the server.
	DirectoryURL string
}

// Load reads the configuration. Files are loaded with godotenv first; a
// missing file is fine, variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		DatabaseURL:     getenv("DATABASE_URL", DefaultDatabaseURL),
		RedisURL:        getenv("REDIS_URL", DefaultRedisURL),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       getenv("JWT_ISSUER", DefaultJWTIssuer),
		Port:            getenv("PORT", DefaultPort),
		PurgeInterval:   DefaultPurgeInterval,
		TombstoneMaxAge: DefaultTombstoneMaxAge,
		DirectoryURL:    getenv("EFTRUST_DIRECTORY_URL", DefaultDirectoryBaseURL),
	}

	var err error
	if cfg.PurgeInterval, err = duration("PURGE_INTERVAL", DefaultPurgeInterval); err != nil {
		return nil, err
	}
	if cfg.TombstoneMaxAge, err = duration("TOMBSTONE_MAX_AGE", DefaultTombstoneMaxAge); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the directory server cannot run without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
