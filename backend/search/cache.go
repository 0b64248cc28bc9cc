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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

func cacheAAD(userID string) []byte {
	return []byte("search-cache\x00" + userID)
}

// cacheKey is a keyed tag over the user, the normalized query and the
// options, so the cache backend never learns the query.
func (e *Engine) cacheKey(keys *indexKeys, userID string, qterms []string, opts models.SearchOptions) string {
	encodedOpts, _ := json.Marshal(opts)
	data := userID + "\x00" + strings.Join(qterms, " ") + "\x00" + string(encodedOpts)
	return base64.RawURLEncoding.EncodeToString(e.provider.MAC(keys.cache, []byte(data)))
}

func (e *Engine) cached(ctx context.Context, keys *indexKeys, userID, key string) ([]models.SearchResult, bool) {
	blob, err := e.cfg.cache.Get(ctx, userID, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Printf("cache read failed: %v", err)
		}
		return nil, false
	}
	if len(blob) < crypto.AESNonceSize {
		return nil, false
	}
	plaintext, err := e.provider.Open(keys.metadata, blob[:crypto.AESNonceSize], blob[crypto.AESNonceSize:], cacheAAD(userID))
	if err != nil {
		e.logger.Printf("discarding unreadable cache entry: %v", err)
		return nil, false
	}
	var results []models.SearchResult
	if err := json.Unmarshal(plaintext, &results); err != nil {
		return nil, false
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return results, true
}

func (e *Engine) storeCached(ctx context.Context, keys *indexKeys, userID, key string, results []models.SearchResult) {
	plaintext, err := json.Marshal(results)
	if err != nil {
		return
	}
	nonce, ciphertext, err := e.provider.Seal(keys.metadata, plaintext, cacheAAD(userID))
	if err != nil {
		e.logger.Printf("cache seal failed: %v", err)
		return
	}
	blob := append(nonce, ciphertext...)
	if err := e.cfg.cache.Set(ctx, userID, key, blob, e.cfg.cacheTTL); err != nil {
		e.logger.Printf("cache write failed: %v", err)
	}
}
