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
	"errors"
	"fmt"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/storage"
)

const masterKeySize = 32

var (
	infoBlindIndex = []byte("eftrust:search:blind-index:v1")
	infoNgram      = []byte("eftrust:search:ngram:v1")
	infoBloom      = []byte("eftrust:search:bloom:v1")
	infoMetadata   = []byte("eftrust:search:metadata:v1")
	infoCache      = []byte("eftrust:search:cache:v1")
)

// indexKeys are the per-user subkeys. Each concern gets its own key so a
// tag from one structure cannot be correlated with another.
type indexKeys struct {
	blind    []byte
	ngram    []byte
	bloom    []byte
	metadata []byte
	cache    []byte
}

func masterKeyName(userID string) string {
	return "search:index-key:" + userID
}

// keysFor loads or creates userID's index master key and derives the subkeys.
func (e *Engine) keysFor(ctx context.Context, userID string) (*indexKeys, error) {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()

	if k, ok := e.keys[userID]; ok {
		return k, nil
	}

	name := masterKeyName(userID)
	master, err := e.secrets.Get(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		master, err = e.provider.RandomBytes(masterKeySize)
		if err != nil {
			return nil, fmt.Errorf("generate index key: %w", err)
		}
		if err := e.secrets.Set(ctx, name, master); err != nil {
			return nil, fmt.Errorf("store index key: %w", err)
		}
		e.logger.Printf("created search index key for user %s", userID)
	case err != nil:
		if errors.Is(err, errs.ErrKeyStoreCorrupt) {
			return nil, err
		}
		return nil, &errs.KeyStoreError{Key: name, Err: err}
	case len(master) != masterKeySize:
		return nil, &errs.KeyStoreError{Key: name, Err: fmt.Errorf("index key has %d bytes", len(master))}
	}

	k := &indexKeys{}
	for _, sub := range []struct {
		dst  *[]byte
		info []byte
	}{
		{&k.blind, infoBlindIndex},
		{&k.ngram, infoNgram},
		{&k.bloom, infoBloom},
		{&k.metadata, infoMetadata},
		{&k.cache, infoCache},
	} {
		key, err := e.provider.DeriveKey(master, nil, sub.info, crypto.AESKeySize)
		if err != nil {
			return nil, fmt.Errorf("derive index subkey: %w", err)
		}
		*sub.dst = key
	}
	e.keys[userID] = k
	return k, nil
}

// tag returns the base64url blind index of data under key.
func (e *Engine) tag(key []byte, data string) string {
	return base64.RawURLEncoding.EncodeToString(e.provider.MAC(key, []byte(data)))
}
