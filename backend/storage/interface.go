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

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/efchatnet/eftrust/backend/models"
)

var (
	// ErrNotFound is returned by every store when the addressed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write is based on a stale read.
	ErrConflict = errors.New("conflicting update")
)

type KeyDirectory interface {
	GetPublicKey(ctx context.Context, userID string) (*models.MemberPublicKey, error)
	PublishPublicKey(ctx context.Context, userID string, publicKey []byte) error
}

type GroupStore interface {
	GetGroupSession(ctx context.Context, groupID string) (*models.GroupSession, error)
	// PutGroupSession stores session if the stored version is session.Version-1
	// (no stored session for version 1) and returns ErrConflict otherwise.
	PutGroupSession(ctx context.Context, session *models.GroupSession) error

	SaveGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	GetGroupMessages(ctx context.Context, groupID string, limit int) ([]models.GroupMessage, error)
}

type SearchStore interface {
	GetSearchIndex(ctx context.Context, fileID string) (*models.SearchIndex, error)
	PutSearchIndex(ctx context.Context, index *models.SearchIndex) error
	// DeleteSearchIndex tombstones the index. Deleting a missing index is not an error.
	DeleteSearchIndex(ctx context.Context, fileID string) error
	// QueryUserSearchIndexes returns the live (not tombstoned) indexes owned by userID.
	QueryUserSearchIndexes(ctx context.Context, userID string) ([]models.SearchIndex, error)
}

// Directory is the durable store shared by all devices.
type Directory interface {
	KeyDirectory
	GroupStore
	SearchStore
}

// LocalSecretStore keeps private key material on the device, encrypted at rest.
// Get returns ErrNotFound for a missing key.
type LocalSecretStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SearchCache holds sealed search results for a bounded time.
// Get returns ErrNotFound for a missing or expired entry.
type SearchCache interface {
	Get(ctx context.Context, userID, key string) ([]byte, error)
	Set(ctx context.Context, userID, key string, value []byte, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID string) error
}
