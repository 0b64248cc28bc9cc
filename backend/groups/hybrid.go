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
	"crypto/sha256"
	"fmt"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
)

// sealTo encrypts plaintext for the holder of publicKey. The AEAD key mixes
// the fresh KEM shared secret with secret, and binds both the KEM ciphertext
// and the context.
func sealTo(p crypto.Provider, publicKey, secret, context, plaintext []byte) (models.SealedEnvelope, error) {
	kemCT, ss, err := p.Encapsulate(publicKey)
	if err != nil {
		return models.SealedEnvelope{}, fmt.Errorf("encapsulate: %w", err)
	}
	key, err := envelopeKey(p, ss, secret, kemCT, context)
	if err != nil {
		return models.SealedEnvelope{}, err
	}
	nonce, ct, err := p.Seal(key, plaintext, context)
	if err != nil {
		return models.SealedEnvelope{}, fmt.Errorf("seal: %w", err)
	}
	return models.SealedEnvelope{KEMCiphertext: kemCT, Nonce: nonce, Ciphertext: ct}, nil
}

func openFrom(p crypto.Provider, secretKey []byte, env models.SealedEnvelope, secret, context []byte) ([]byte, error) {
	ss, err := p.Decapsulate(secretKey, env.KEMCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryptionFailed, err)
	}
	key, err := envelopeKey(p, ss, secret, env.KEMCiphertext, context)
	if err != nil {
		return nil, err
	}
	plaintext, err := p.Open(key, env.Nonce, env.Ciphertext, context)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func envelopeKey(p crypto.Provider, sharedSecret, secret, kemCT, context []byte) ([]byte, error) {
	salt := sha256.Sum256(kemCT)
	ikm := make([]byte, 0, len(sharedSecret)+len(secret))
	ikm = append(ikm, sharedSecret...)
	ikm = append(ikm, secret...)
	key, err := p.DeriveKey(ikm, salt[:], context, crypto.AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}
	return key, nil
}
