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
	"crypto/rand"
	"fmt"
	"io"
)

// Provider is the set of primitives the trust core consumes.
type Provider interface {
	// Seal encrypts plaintext under key with a fresh random nonce.
	Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error)
	// Open authenticates and decrypts ciphertext.
	Open(key, nonce, ciphertext, aad []byte) ([]byte, error)
	// MAC returns a deterministic keyed tag over data.
	MAC(key, data []byte) []byte
	// DeriveKey stretches secret into length bytes bound to salt and info.
	DeriveKey(secret, salt, info []byte, length int) ([]byte, error)
	// RandomBytes returns n bytes from a CSPRNG.
	RandomBytes(n int) ([]byte, error)

	// GenerateKEMKeyPair creates a member encryption keypair.
	GenerateKEMKeyPair() (*KeyPair, error)
	// Encapsulate produces a KEM ciphertext and shared secret for publicKey.
	Encapsulate(publicKey []byte) (ciphertext, sharedSecret []byte, err error)
	// Decapsulate recovers the shared secret from a KEM ciphertext.
	Decapsulate(secretKey, ciphertext []byte) ([]byte, error)

	// GenerateSigningKeyPair creates a sender key signature keypair.
	GenerateSigningKeyPair() (*KeyPair, error)
	// Sign signs message with secretKey.
	Sign(secretKey, message []byte) ([]byte, error)
	// Verify returns ErrSignatureVerificationFailed when the signature is invalid.
	Verify(publicKey, message, signature []byte) error
}

// KeyPair holds raw public and secret key bytes.
type KeyPair struct {
	PublicKey []byte `json:"public_key"`
	SecretKey []byte `json:"secret_key"`
}

// Suite implements Provider with ML-KEM-768, ML-DSA-65, AES-256-GCM,
// HKDF-SHA-512 and HMAC-SHA-256. The zero value is ready to use.
type Suite struct {
	// rand is the random source. It defaults to crypto/rand.
	rand io.Reader
}

var _ Provider = (*Suite)(nil)

// NewSuite returns a Suite reading randomness from crypto/rand.
func NewSuite() *Suite {
	return &Suite{}
}

// NewSuiteWithRand returns a Suite reading randomness from r.
// Intended for deterministic tests only.
func NewSuiteWithRand(r io.Reader) *Suite {
	return &Suite{rand: r}
}

func (s *Suite) reader() io.Reader {
	if s == nil || s.rand == nil {
		return rand.Reader
	}
	return s.rand
}

// RandomBytes returns n random bytes.
func (s *Suite) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.reader(), b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}
