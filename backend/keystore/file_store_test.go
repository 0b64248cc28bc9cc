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

package keystore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/storage"
)

var testKDF = KDFParams{Memory: 1024, Time: 1, Threads: 1}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, []byte("correct horse"), testKDF)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.Get(ctx, "identity:alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "identity:alice", []byte("secret key")); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, []byte("correct horse"), KDFParams{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reopened.Get(ctx, "identity:alice")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "secret key" {
		t.Errorf("Get() = %q", got)
	}

	if err := reopened.Delete(ctx, "identity:alice"); err != nil {
		t.Fatal(err)
	}
	if err := reopened.Delete(ctx, "identity:alice"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestFileStoreWrongPassphrase(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := Open(dir, []byte("right"), testKDF); err != nil {
		t.Fatal(err)
	}
	_, err := Open(dir, []byte("wrong"), testKDF)
	if !errors.Is(err, errs.ErrKeyStoreCorrupt) {
		t.Fatalf("Open() error = %v, want ErrKeyStoreCorrupt", err)
	}
}

func TestFileStoreTamperedEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(t.TempDir(), []byte("pw"), testKDF)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "chain:k1", []byte("chain key")); err != nil {
		t.Fatal(err)
	}

	path := s.path("chain:k1")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = s.Get(ctx, "chain:k1")
	var ksErr *errs.KeyStoreError
	if !errors.As(err, &ksErr) || ksErr.Key != "chain:k1" {
		t.Fatalf("Get() error = %v, want KeyStoreError for chain:k1", err)
	}
}

func TestFileStoreEntriesBoundToName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(t.TempDir(), []byte("pw"), testKDF)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "a", []byte("value a")); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(s.path("a"))
	if err := os.WriteFile(s.path("b"), data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, errs.ErrKeyStoreCorrupt) {
		t.Errorf("Get() of swapped entry error = %v, want ErrKeyStoreCorrupt", err)
	}
}
