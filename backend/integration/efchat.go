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

package integration

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/eftrust/backend/handlers"
	"github.com/efchatnet/eftrust/backend/middleware"
	"github.com/efchatnet/eftrust/backend/storage"
	"github.com/efchatnet/eftrust/backend/storage/postgres"
	redisStore "github.com/efchatnet/eftrust/backend/storage/redis"
)

// RoutePrefix is where the directory API is mounted.
const RoutePrefix = "/api/trust"

// TrustIntegration provides the key, group and search directory as a plugin for efchat
type TrustIntegration struct {
	store         storage.Directory
	pg            *postgres.Store
	cache         *redisStore.SearchCache
	keyHandler    *handlers.KeyHandler
	groupHandler  *handlers.GroupHandler
	searchHandler *handlers.SearchHandler
	jwtSecret     string
	jwtIssuer     string
}

// Config holds configuration for the trust integration
type Config struct {
	DB        *sql.DB
	Redis     *redis.Client
	JWTSecret string
	JWTIssuer string

	// Directory replaces the Postgres store when set. DB is then ignored.
	Directory storage.Directory
}

// NewTrustIntegration creates a new integration that can be embedded into efchat
func NewTrustIntegration(config *Config) (*TrustIntegration, error) {
	t := &TrustIntegration{
		store:     config.Directory,
		jwtSecret: config.JWTSecret,
		jwtIssuer: config.JWTIssuer,
	}

	if t.store == nil {
		t.pg = postgres.NewStore(config.DB, config.Redis)
		if err := t.pg.Migrate(); err != nil {
			return nil, err
		}
		t.store = t.pg
	}
	if config.Redis != nil {
		t.cache = redisStore.NewSearchCache(config.Redis)
	}

	t.keyHandler = handlers.NewKeyHandler(t.store)
	t.groupHandler = handlers.NewGroupHandler(t.store)
	t.searchHandler = handlers.NewSearchHandler(t.store)
	return t, nil
}

// RegisterRoutes adds the directory routes to an existing router
// If authMiddleware is nil, it will use the built-in JWT validation
func (t *TrustIntegration) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix(RoutePrefix).Subrouter()

	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(t.jwtSecret, t.jwtIssuer))
	}

	// Key directory
	api.HandleFunc("/keys", t.keyHandler.PublishKey).Methods("POST", "OPTIONS")
	api.HandleFunc("/keys/{userId}", t.keyHandler.GetPublicKey).Methods("GET", "OPTIONS")

	// Group sessions and messages
	api.HandleFunc("/groups/{groupId}/session", t.groupHandler.GetSession).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/session", t.groupHandler.PutSession).Methods("PUT", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/messages", t.groupHandler.SendGroupMessage).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/messages", t.groupHandler.GetGroupMessages).Methods("GET", "OPTIONS")

	// Search indexes
	api.HandleFunc("/search", t.searchHandler.ListIndexes).Methods("GET", "OPTIONS")
	api.HandleFunc("/search/{fileId}", t.searchHandler.GetIndex).Methods("GET", "OPTIONS")
	api.HandleFunc("/search/{fileId}", t.searchHandler.PutIndex).Methods("PUT", "OPTIONS")
	api.HandleFunc("/search/{fileId}", t.searchHandler.DeleteIndex).Methods("DELETE", "OPTIONS")
}

// Health reports whether the backing store is reachable. It needs no auth.
func (t *TrustIntegration) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := t.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// GetStore returns the underlying storage implementation
func (t *TrustIntegration) GetStore() storage.Directory {
	return t.store
}

// RunMaintenance purges search index tombstones older than maxAge and drops
// cache bookkeeping for expired entries.
func (t *TrustIntegration) RunMaintenance(ctx context.Context, maxAge time.Duration) error {
	if t.pg != nil {
		n, err := t.pg.PurgeDeletedSearchIndexes(ctx, time.Now().Add(-maxAge))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("[Trust-Cleanup] Purged %d deleted search indexes", n)
		}
	}
	if t.cache != nil {
		if err := t.cache.CleanupExpiredEntries(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StartMaintenance runs RunMaintenance every interval until ctx is done.
func (t *TrustIntegration) StartMaintenance(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.RunMaintenance(ctx, maxAge); err != nil {
					log.Printf("[Trust-Cleanup] Maintenance failed: %v", err)
				}
			}
		}
	}()
}

// ValidateSetup checks if the module is properly configured
func (t *TrustIntegration) ValidateSetup() error {
	if t.pg != nil {
		if err := t.pg.Migrate(); err != nil {
			return err
		}
	}

	if t.jwtSecret == "" {
		return &ValidationError{Message: "JWT secret is not configured"}
	}

	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Handler getters for bridge integration
func (t *TrustIntegration) GetKeyHandler() *handlers.KeyHandler {
	return t.keyHandler
}

func (t *TrustIntegration) GetGroupHandler() *handlers.GroupHandler {
	return t.groupHandler
}

func (t *TrustIntegration) GetSearchHandler() *handlers.SearchHandler {
	return t.searchHandler
}
