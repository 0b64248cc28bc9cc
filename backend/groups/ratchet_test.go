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

package groups

import (
	"bytes"
	"errors"
	"testing"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
)

func TestChainKeyAt(t *testing.T) {
	t.Parallel()
	seed := bytes.Repeat([]byte{7}, chainKeySize)
	base := models.ChainState{ChainKey: seed}

	k0, err := chainKeyAt(base, 0, 10)
	if err != nil || !bytes.Equal(k0, seed) {
		t.Fatalf("index 0 = %x, %v", k0, err)
	}
	k3, err := chainKeyAt(base, 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := nextChainKey(nextChainKey(nextChainKey(seed)))
	if !bytes.Equal(k3, want) {
		t.Error("chain key at 3 does not match three advances")
	}

	later := models.ChainState{ChainKey: k3, ChainIndex: 3}
	if _, err := chainKeyAt(later, 1, 10); !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Errorf("going backwards error = %v", err)
	}
	if _, err := chainKeyAt(base, 10, 10); !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Errorf("index at limit error = %v", err)
	}
}

func TestMessageKeysDiffer(t *testing.T) {
	t.Parallel()
	p := crypto.NewSuite()
	ck := bytes.Repeat([]byte{1}, chainKeySize)

	a, err := messageKey(p, ck, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := messageKey(p, ck, 1)
	if bytes.Equal(a, b) {
		t.Error("same message key for different indexes")
	}
	if bytes.Equal(a, ck) {
		t.Error("message key equals chain key")
	}
}

func TestBindIsUnambiguous(t *testing.T) {
	t.Parallel()
	x := bind([]byte("ab"), []byte("c"))
	y := bind([]byte("a"), []byte("bc"))
	if bytes.Equal(x, y) {
		t.Error("different tuples encoded identically")
	}
}

func TestHybridEnvelope(t *testing.T) {
	t.Parallel()
	p := crypto.NewSuite()
	kp, err := p.GenerateKEMKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	ctx := seedContext("g", "k", "bob")
	env, err := sealTo(p, kp.PublicKey, []byte("mk"), ctx, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := openFrom(p, kp.SecretKey, env, []byte("mk"), ctx)
	if err != nil || string(got) != "payload" {
		t.Fatalf("openFrom() = %q, %v", got, err)
	}
	if _, err := openFrom(p, kp.SecretKey, env, []byte("other"), ctx); !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Errorf("wrong message key error = %v", err)
	}
	if _, err := openFrom(p, kp.SecretKey, env, []byte("mk"), seedContext("g", "k", "carol")); !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Errorf("wrong recipient context error = %v", err)
	}
}
