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

package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func mustRandom(t *testing.T, s *Suite, n int) []byte {
	t.Helper()
	b, err := s.RandomBytes(n)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return b
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	key := mustRandom(t, s, AESKeySize)
	plaintext := []byte("family reunion 1990")
	aad := []byte("file-1")

	nonce, ct, err := s.Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(nonce) != AESNonceSize {
		t.Errorf("nonce length = %d, want %d", len(nonce), AESNonceSize)
	}

	got, err := s.Open(key, nonce, ct, aad)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestOpen_Failures(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	key := mustRandom(t, s, AESKeySize)
	nonce, ct, err := s.Seal(key, []byte("secret"), []byte("aad"))
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF

	tests := []struct {
		name    string
		key     []byte
		nonce   []byte
		ct      []byte
		aad     []byte
		wantErr error
	}{
		{"wrong aad", key, nonce, ct, []byte("other"), ErrDecryptionFailed},
		{"tampered ciphertext", key, nonce, tampered, []byte("aad"), ErrDecryptionFailed},
		{"wrong key", mustRandom(t, s, AESKeySize), nonce, ct, []byte("aad"), ErrDecryptionFailed},
		{"short key", key[:16], nonce, ct, []byte("aad"), ErrInvalidKeySize},
		{"short nonce", key, nonce[:8], ct, []byte("aad"), ErrInvalidNonceSize},
		{"truncated", key, nonce, ct[:4], []byte("aad"), ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Open(tt.key, tt.nonce, tt.ct, tt.aad)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	key := mustRandom(t, s, AESKeySize)
	n1, _, err := s.Seal(key, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	n2, _, err := s.Seal(key, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(n1, n2) {
		t.Error("expected distinct nonces")
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	secret := []byte("test secret key for derivation")

	k1, err := s.DeriveKey(secret, []byte("salt"), []byte("info"), 32)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := s.DeriveKey(secret, []byte("salt"), []byte("info"), 32)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey not deterministic")
	}

	k3, _ := s.DeriveKey(secret, []byte("salt"), []byte("other info"), 32)
	if bytes.Equal(k1, k3) {
		t.Error("different info produced same key")
	}
}

func TestMAC(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	k1 := []byte("key one")
	k2 := []byte("key two")

	a := s.MAC(k1, []byte("reunion"))
	b := s.MAC(k1, []byte("reunion"))
	c := s.MAC(k2, []byte("reunion"))

	if len(a) != MACSize {
		t.Errorf("MAC length = %d, want %d", len(a), MACSize)
	}
	if !bytes.Equal(a, b) {
		t.Error("same key and data produced different tags")
	}
	if bytes.Equal(a, c) {
		t.Error("different keys produced the same tag")
	}
}

func TestKEM_RoundTrip(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	kp, err := s.GenerateKEMKeyPair()
	if err != nil {
		t.Fatalf("GenerateKEMKeyPair() error = %v", err)
	}
	if len(kp.PublicKey) != MLKEMPublicKeySize {
		t.Errorf("public key size = %d, want %d", len(kp.PublicKey), MLKEMPublicKeySize)
	}
	if len(kp.SecretKey) != MLKEMSecretKeySize {
		t.Errorf("secret key size = %d, want %d", len(kp.SecretKey), MLKEMSecretKeySize)
	}

	ct, ss, err := s.Encapsulate(kp.PublicKey)
	if err != nil {
		t.Fatalf("Encapsulate() error = %v", err)
	}
	got, err := s.Decapsulate(kp.SecretKey, ct)
	if err != nil {
		t.Fatalf("Decapsulate() error = %v", err)
	}
	if !bytes.Equal(ss, got) {
		t.Error("shared secrets differ")
	}

	other, err := s.GenerateKEMKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	wrong, err := s.Decapsulate(other.SecretKey, ct)
	if err != nil {
		t.Fatalf("Decapsulate() with other key error = %v", err)
	}
	if bytes.Equal(ss, wrong) {
		t.Error("another key recovered the same shared secret")
	}
}

func TestKEM_InvalidSizes(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	if _, _, err := s.Encapsulate(make([]byte, 10)); !errors.Is(err, ErrInvalidPublicKeySize) {
		t.Errorf("Encapsulate() error = %v, want %v", err, ErrInvalidPublicKeySize)
	}
	if _, err := s.Decapsulate(make([]byte, 10), make([]byte, MLKEMCiphertextSize)); !errors.Is(err, ErrInvalidSecretKeySize) {
		t.Errorf("Decapsulate() error = %v, want %v", err, ErrInvalidSecretKeySize)
	}
	if _, err := s.Decapsulate(make([]byte, MLKEMSecretKeySize), make([]byte, 10)); !errors.Is(err, ErrInvalidCiphertextSize) {
		t.Errorf("Decapsulate() error = %v, want %v", err, ErrInvalidCiphertextSize)
	}
}

func TestSignVerify(t *testing.T) {
	t.Parallel()
	s := NewSuite()
	kp, err := s.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair() error = %v", err)
	}
	if len(kp.PublicKey) != MLDSAPublicKeySize {
		t.Errorf("public key size = %d, want %d", len(kp.PublicKey), MLDSAPublicKeySize)
	}

	msg := []byte(`{"content":"hello"}`)
	sig, err := s.Sign(kp.SecretKey, msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(sig) != MLDSASignatureSize {
		t.Errorf("signature size = %d, want %d", len(sig), MLDSASignatureSize)
	}
	if err := s.Verify(kp.PublicKey, msg, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	t.Run("modified message", func(t *testing.T) {
		if err := s.Verify(kp.PublicKey, []byte(`{"content":"hellO"}`), sig); !errors.Is(err, ErrSignatureVerificationFailed) {
			t.Errorf("Verify() error = %v, want %v", err, ErrSignatureVerificationFailed)
		}
	})

	t.Run("other key", func(t *testing.T) {
		other, err := s.GenerateSigningKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Verify(other.PublicKey, msg, sig); !errors.Is(err, ErrSignatureVerificationFailed) {
			t.Errorf("Verify() error = %v, want %v", err, ErrSignatureVerificationFailed)
		}
	})

	t.Run("short public key", func(t *testing.T) {
		if err := s.Verify(kp.PublicKey[:10], msg, sig); !errors.Is(err, ErrInvalidPublicKeySize) {
			t.Errorf("Verify() error = %v, want %v", err, ErrInvalidPublicKeySize)
		}
	})
}
