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

// Package memory provides in-process implementations of the storage
// interfaces. Values are copied on the way in and out so callers observe the
// same isolation a remote directory gives them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

type Directory struct {
	mu       sync.RWMutex
	keys     map[string]models.MemberPublicKey
	sessions map[string][]byte
	versions map[string]int64
	messages map[string][][]byte
	indexes  map[string][]byte

	// Fail, when set, is returned by every call. Tests use it to simulate an
	// unreachable directory.
	Fail error
}

var _ storage.Directory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		keys:     make(map[string]models.MemberPublicKey),
		sessions: make(map[string][]byte),
		versions: make(map[string]int64),
		messages: make(map[string][][]byte),
		indexes:  make(map[string][]byte),
	}
}

func (d *Directory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Fail
}

func (d *Directory) GetPublicKey(ctx context.Context, userID string) (*models.MemberPublicKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	key, ok := d.keys[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	key.PublicKey = append([]byte(nil), key.PublicKey...)
	return &key, nil
}

func (d *Directory) PublishPublicKey(ctx context.Context, userID string, publicKey []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	d.keys[userID] = models.MemberPublicKey{
		UserID:    userID,
		PublicKey: append([]byte(nil), publicKey...),
		CreatedAt: time.Now(),
	}
	return nil
}

func (d *Directory) GetGroupSession(ctx context.Context, groupID string) (*models.GroupSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	data, ok := d.sessions[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var session models.GroupSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (d *Directory) PutGroupSession(ctx context.Context, session *models.GroupSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	if d.versions[session.GroupID] != session.Version-1 {
		return fmt.Errorf("%w: group %s is at version %d, write is based on %d",
			storage.ErrConflict, session.GroupID, d.versions[session.GroupID], session.Version-1)
	}
	d.sessions[session.GroupID] = data
	d.versions[session.GroupID] = session.Version
	return nil
}

func (d *Directory) SaveGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	d.messages[msg.GroupID] = append(d.messages[msg.GroupID], data)
	return nil
}

// GetGroupMessages returns up to limit of the most recent messages, newest first.
func (d *Directory) GetGroupMessages(ctx context.Context, groupID string, limit int) ([]models.GroupMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	stored := d.messages[groupID]
	var messages []models.GroupMessage
	for i := len(stored) - 1; i >= 0; i-- {
		if limit > 0 && len(messages) == limit {
			break
		}
		var msg models.GroupMessage
		if err := json.Unmarshal(stored[i], &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (d *Directory) GetSearchIndex(ctx context.Context, fileID string) (*models.SearchIndex, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	idx, err := d.decodeIndex(fileID)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (d *Directory) decodeIndex(fileID string) (*models.SearchIndex, error) {
	data, ok := d.indexes[fileID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var idx models.SearchIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode search index: %w", err)
	}
	return &idx, nil
}

func (d *Directory) PutSearchIndex(ctx context.Context, index *models.SearchIndex) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode search index: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	d.indexes[index.FileID] = data
	return nil
}

func (d *Directory) DeleteSearchIndex(ctx context.Context, fileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	idx, err := d.decodeIndex(fileID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if idx.DeletedAt != nil {
		return nil
	}
	now := time.Now()
	idx.DeletedAt = &now
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode search index: %w", err)
	}
	d.indexes[fileID] = data
	return nil
}

// QueryUserSearchIndexes returns userID's live indexes ordered by file id.
func (d *Directory) QueryUserSearchIndexes(ctx context.Context, userID string) ([]models.SearchIndex, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	var out []models.SearchIndex
	for fileID := range d.indexes {
		idx, err := d.decodeIndex(fileID)
		if err != nil {
			return nil, err
		}
		if idx.UserID != userID || idx.Deleted() {
			continue
		}
		out = append(out, *idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}
