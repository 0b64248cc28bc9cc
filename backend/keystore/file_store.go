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

// Package keystore implements the local secret store on disk. Every entry is
// sealed with XChaCha20-Poly1305 under a key derived from a passphrase with
// Argon2id, so private key material never rests in plaintext.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/storage"
)

const (
	headerFile   = "keystore.json"
	entrySuffix  = ".key"
	verifierText = "eftrust keystore v1"
	saltSize     = 32
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Memory  uint32 `json:"m"`
	Time    uint32 `json:"t"`
	Threads uint8  `json:"p"`
}

// DefaultKDF is used when a store is created without explicit parameters.
var DefaultKDF = KDFParams{Memory: 64 * 1024, Time: 3, Threads: 4}

type header struct {
	KDF      KDFParams `json:"kdf"`
	Salt     []byte    `json:"salt"`
	Verifier []byte    `json:"verifier"`
}

type FileStore struct {
	dir string
	key []byte
	mu  sync.RWMutex
}

var _ storage.LocalSecretStore = (*FileStore)(nil)

// Open unlocks the store in dir, creating it with params when it does not
// exist yet. A wrong passphrase or a damaged header yields an error matching
// errs.ErrKeyStoreCorrupt.
func Open(dir string, passphrase []byte, params KDFParams) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}

	path := filepath.Join(dir, headerFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return create(dir, path, passphrase, params)
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore header: %w", err)
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &errs.KeyStoreError{Key: headerFile, Err: err}
	}
	key := deriveKey(passphrase, h.Salt, h.KDF)
	if _, err := open(key, h.Verifier, []byte(headerFile)); err != nil {
		return nil, &errs.KeyStoreError{Key: headerFile, Err: err}
	}
	return &FileStore{dir: dir, key: key}, nil
}

func create(dir, path string, passphrase []byte, params KDFParams) (*FileStore, error) {
	if params == (KDFParams{}) {
		params = DefaultKDF
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt, params)
	verifier, err := seal(key, []byte(verifierText), []byte(headerFile))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(header{KDF: params, Salt: salt, Verifier: verifier})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write keystore header: %w", err)
	}
	return &FileStore{dir: dir, key: key}, nil
}

func deriveKey(passphrase, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, ciphertext[chacha20poly1305.NonceSizeX:], aad)
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+entrySuffix)
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, &errs.KeyStoreError{Key: key, Err: err}
	}
	plaintext, err := open(f.key, data, []byte(key))
	if err != nil {
		return nil, &errs.KeyStoreError{Key: key, Err: err}
	}
	return plaintext, nil
}

// Set writes the entry atomically through a temporary file.
func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	sealed, err := seal(f.key, value, []byte(key))
	if err != nil {
		return fmt.Errorf("seal %q: %w", key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
