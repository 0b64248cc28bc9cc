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

// Package errs holds the error taxonomy shared by the group session manager
// and the search index engine.
package errs

import (
	"errors"
	"fmt"

	"github.com/efchatnet/eftrust/backend/storage"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrUninitialized is returned when a session or engine has not been set up.
	ErrUninitialized = errors.New("not initialized")

	// ErrDirectoryUnavailable is returned when the directory store cannot be reached.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrMissingMemberKey is returned when a member has no published public key.
	// The group manager recovers from it by skipping the member.
	ErrMissingMemberKey = errors.New("member has no published public key")

	// ErrNotMember is returned when the local user is not an active member of the group.
	ErrNotMember = errors.New("not an active group member")

	// ErrChainExhausted is returned when a sender key reached its maximum chain length.
	ErrChainExhausted = errors.New("sender key chain exhausted")

	// ErrKeyExpired is returned when a sender key is past its expiry.
	ErrKeyExpired = errors.New("sender key expired")

	// ErrSignatureInvalid is returned when a group message signature does not verify.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrNoCiphertextForUser is returned when a message carries no ciphertext for the caller.
	ErrNoCiphertextForUser = errors.New("no ciphertext for user")

	// ErrKeyStoreCorrupt is returned when local key material cannot be read.
	// History encrypted under that material cannot be recovered.
	ErrKeyStoreCorrupt = errors.New("local key store corrupt: history cannot be recovered")

	// ErrQueryTooShort is returned when a search query has no usable term.
	ErrQueryTooShort = errors.New("query too short")

	// ErrIndexNotFound is returned when a search index does not exist.
	ErrIndexNotFound = errors.New("search index not found")

	// ErrDecryptionFailed is returned when authenticated decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMissingChainIndex is returned for a group message persisted without a chain index.
	ErrMissingChainIndex = fmt.Errorf("%w: message has no chain index", ErrDecryptionFailed)
)

// DirectoryError reports a failed call to the directory store.
type DirectoryError struct {
	Op  string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// Is reports directory failures as ErrDirectoryUnavailable. A missing
// record or a version conflict is an answer from a reachable directory, so
// neither matches.
func (e *DirectoryError) Is(target error) bool {
	if target != ErrDirectoryUnavailable {
		return false
	}
	return !errors.Is(e.Err, storage.ErrNotFound) && !errors.Is(e.Err, storage.ErrConflict)
}

// Directory wraps err as a DirectoryError unless it is nil.
func Directory(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DirectoryError{Op: op, Err: err}
}

// KeyStoreError reports unreadable local key material.
type KeyStoreError struct {
	Key string
	Err error
}

func (e *KeyStoreError) Error() string {
	return fmt.Sprintf("key store entry %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *KeyStoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrKeyStoreCorrupt.
func (e *KeyStoreError) Is(target error) bool {
	return target == ErrKeyStoreCorrupt
}
