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
	"encoding/binary"
	"fmt"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
)

const chainKeySize = 32

var (
	ctxMessageKey   = []byte("eftrust:message-key:v1")
	ctxGroupMessage = []byte("eftrust:group-message:v1")
	ctxChainSeed    = []byte("eftrust:chain-seed:v1")
	advanceLabel    = []byte("advance")
)

// nextChainKey is the one-way step of the sender chain.
func nextChainKey(chainKey []byte) []byte {
	h := sha256.New()
	h.Write(chainKey)
	h.Write(advanceLabel)
	return h.Sum(nil)
}

func encodeIndex(index uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return b[:]
}

// messageKey derives the key for the message at index. The chain key itself
// never encrypts anything.
func messageKey(p crypto.Provider, chainKey []byte, index uint64) ([]byte, error) {
	info := append(append([]byte{}, ctxMessageKey...), encodeIndex(index)...)
	return p.DeriveKey(chainKey, nil, info, crypto.AESKeySize)
}

// chainKeyAt advances a recipient's chain state to index.
func chainKeyAt(state models.ChainState, index, limit uint64) ([]byte, error) {
	if index < state.ChainIndex {
		return nil, fmt.Errorf("%w: index %d precedes chain state %d", errs.ErrDecryptionFailed, index, state.ChainIndex)
	}
	if index >= limit {
		return nil, fmt.Errorf("%w: index %d beyond chain limit %d", errs.ErrDecryptionFailed, index, limit)
	}
	ck := state.ChainKey
	for i := state.ChainIndex; i < index; i++ {
		ck = nextChainKey(ck)
	}
	return ck, nil
}

// bind length-prefixes each part so distinct id tuples never encode the same.
func bind(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += 4 + len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

func messageContext(groupID, senderKeyID string, index uint64, recipientID string) []byte {
	return bind(ctxGroupMessage, []byte(groupID), []byte(senderKeyID), encodeIndex(index), []byte(recipientID))
}

func seedContext(groupID, senderKeyID, recipientID string) []byte {
	return bind(ctxChainSeed, []byte(groupID), []byte(senderKeyID), []byte(recipientID))
}
