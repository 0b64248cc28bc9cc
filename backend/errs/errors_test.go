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

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/efchatnet/eftrust/backend/storage"
)

func TestDirectoryError(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	err := fmt.Errorf("load session: %w", Directory("get group session", cause))

	if !errors.Is(err, ErrDirectoryUnavailable) {
		t.Error("expected errors.Is(err, ErrDirectoryUnavailable)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}

	var dirErr *DirectoryError
	if !errors.As(err, &dirErr) {
		t.Fatal("expected errors.As to find *DirectoryError")
	}
	if dirErr.Op != "get group session" {
		t.Errorf("Op = %q, want %q", dirErr.Op, "get group session")
	}
}

func TestDirectoryErrorNotFound(t *testing.T) {
	t.Parallel()
	err := Directory("get public key", storage.ErrNotFound)
	if errors.Is(err, ErrDirectoryUnavailable) {
		t.Error("a missing record must not report the directory as unavailable")
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Error("expected storage.ErrNotFound to be reachable")
	}
}

func TestDirectoryErrorConflict(t *testing.T) {
	t.Parallel()
	err := Directory("put group session", fmt.Errorf("%w: group g", storage.ErrConflict))
	if errors.Is(err, ErrDirectoryUnavailable) {
		t.Error("a version conflict must not report the directory as unavailable")
	}
	if !errors.Is(err, storage.ErrConflict) {
		t.Error("expected storage.ErrConflict to be reachable")
	}
}

func TestDirectoryNil(t *testing.T) {
	t.Parallel()
	if err := Directory("noop", nil); err != nil {
		t.Errorf("Directory(nil) = %v, want nil", err)
	}
}

func TestKeyStoreError(t *testing.T) {
	t.Parallel()
	err := &KeyStoreError{Key: "identity:alice", Err: errors.New("bad tag")}
	if !errors.Is(err, ErrKeyStoreCorrupt) {
		t.Error("expected KeyStoreError to match ErrKeyStoreCorrupt")
	}
	if errors.Is(err, ErrDirectoryUnavailable) {
		t.Error("KeyStoreError must not match ErrDirectoryUnavailable")
	}
}

func TestMissingChainIndexIsDecryptionFailure(t *testing.T) {
	t.Parallel()
	if !errors.Is(ErrMissingChainIndex, ErrDecryptionFailed) {
		t.Error("ErrMissingChainIndex should wrap ErrDecryptionFailed")
	}
}
