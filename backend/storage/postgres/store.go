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

package postgres

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
	redisStore "github.com/efchatnet/eftrust/backend/storage/redis"
)

// MessageNotifier is told about every stored group message.
type MessageNotifier interface {
	NotifyGroupMessage(ctx context.Context, msg *models.GroupMessage) error
}

// Store is the server-side directory backed by PostgreSQL.
type Store struct {
	db       *sql.DB
	notifier MessageNotifier
	logger   *log.Logger
}

var _ storage.Directory = (*Store)(nil)

// NewStore returns a Store. When rdb is not nil, stored group messages are
// announced on Redis pub/sub.
func NewStore(db *sql.DB, rdb *redis.Client) *Store {
	s := &Store{
		db:     db,
		logger: log.New(os.Stderr, "[postgres] ", log.LstdFlags),
	}
	if rdb != nil {
		s.notifier = redisStore.NewNotifier(rdb)
	}
	return s
}

// SetNotifier replaces the message notifier.
func (s *Store) SetNotifier(n MessageNotifier) {
	s.notifier = n
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(err error) error {
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	return err
}
