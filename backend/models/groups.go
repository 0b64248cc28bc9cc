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

package models

import (
	"time"
)

// SealedEnvelope is a hybrid ciphertext addressed to one member:
// an ML-KEM encapsulation plus the AES-GCM sealed body.
type SealedEnvelope struct {
	KEMCiphertext []byte `json:"kem_ciphertext"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// SenderKey stores ONLY public information - chain keys remain on client!
type SenderKey struct {
	ID               string                    `json:"id" db:"sender_key_id"`
	GroupID          string                    `json:"group_id" db:"group_id"`
	OwnerID          string                    `json:"owner_id" db:"owner_id"`
	Epoch            int                       `json:"epoch" db:"epoch"`
	SigningPublicKey []byte                    `json:"signing_public_key" db:"signing_public_key"`
	Distributions    map[string]SealedEnvelope `json:"distributions" db:"distributions"`
	CreatedAt        time.Time                 `json:"created_at" db:"created_at"`
	ExpiresAt        time.Time                 `json:"expires_at" db:"expires_at"`
	RetiredAt        *time.Time                `json:"retired_at,omitempty" db:"retired_at"`
}

// Expired reports whether the key is past its expiry at now.
func (k *SenderKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// Retired reports whether the key was replaced by a newer one.
func (k *SenderKey) Retired() bool {
	return k.RetiredAt != nil
}

// SenderKeyState is the private half of a sender key. It is kept in the
// local secret store of the key owner and never leaves the device.
type SenderKeyState struct {
	SenderKeyID       string `json:"sender_key_id"`
	SigningPrivateKey []byte `json:"signing_private_key"`
	ChainKey          []byte `json:"chain_key"`
	ChainIndex        uint64 `json:"chain_index"`
}

// ChainState is a recipient's view of a sender chain.
type ChainState struct {
	SenderKeyID string `json:"sender_key_id"`
	ChainKey    []byte `json:"chain_key"`
	ChainIndex  uint64 `json:"chain_index"`
}

type GroupMemberKeys struct {
	UserID    string    `json:"user_id" db:"user_id"`
	PublicKey []byte    `json:"public_key" db:"public_key"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
	AddedBy   string    `json:"added_by" db:"added_by"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

type GroupSession struct {
	GroupID   string `json:"group_id" db:"group_id"`
	CreatedBy string `json:"created_by" db:"created_by"`
	Epoch     int    `json:"epoch" db:"epoch"`
	// Version counts writes. A put carries the version it was read at plus
	// one; stores reject it when another write got there first.
	Version           int64                      `json:"version" db:"version"`
	SenderKeys        map[string]*SenderKey      `json:"sender_keys"`
	Members           map[string]GroupMemberKeys `json:"members"`
	CurrentSenderKeys map[string]string          `json:"current_sender_keys"`
	CreatedAt         time.Time                  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at" db:"updated_at"`
}

// CurrentSenderKeyID returns the id of the key userID currently sends under.
func (s *GroupSession) CurrentSenderKeyID(userID string) (string, bool) {
	if s == nil || s.CurrentSenderKeys == nil {
		return "", false
	}
	id, ok := s.CurrentSenderKeys[userID]
	return id, ok && id != ""
}

// ActiveMembers returns the members that receive new messages.
func (s *GroupSession) ActiveMembers() []GroupMemberKeys {
	active := make([]GroupMemberKeys, 0, len(s.Members))
	for _, m := range s.Members {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active
}

// Clone returns a deep copy safe to hand to callers.
func (s *GroupSession) Clone() *GroupSession {
	if s == nil {
		return nil
	}
	c := *s
	c.SenderKeys = make(map[string]*SenderKey, len(s.SenderKeys))
	for id, k := range s.SenderKeys {
		kc := *k
		if k.Distributions != nil {
			kc.Distributions = make(map[string]SealedEnvelope, len(k.Distributions))
			for uid, env := range k.Distributions {
				kc.Distributions[uid] = env
			}
		}
		if k.RetiredAt != nil {
			t := *k.RetiredAt
			kc.RetiredAt = &t
		}
		c.SenderKeys[id] = &kc
	}
	c.Members = make(map[string]GroupMemberKeys, len(s.Members))
	for id, m := range s.Members {
		c.Members[id] = m
	}
	c.CurrentSenderKeys = make(map[string]string, len(s.CurrentSenderKeys))
	for uid, id := range s.CurrentSenderKeys {
		c.CurrentSenderKeys[uid] = id
	}
	return &c
}

type GroupMessage struct {
	ID          string                    `json:"id" db:"message_id"`
	GroupID     string                    `json:"group_id" db:"group_id"`
	SenderID    string                    `json:"sender_id" db:"sender_id"`
	SenderKeyID string                    `json:"sender_key_id" db:"sender_key_id"`
	Ciphertexts map[string]SealedEnvelope `json:"ciphertexts" db:"ciphertexts"`
	Signature   []byte                    `json:"signature" db:"signature"`
	ChainIndex  *uint64                   `json:"chain_index,omitempty" db:"chain_index"`
	Timestamp   time.Time                 `json:"timestamp" db:"created_at"`
}

// Index returns the chain index and whether it was recorded.
func (m *GroupMessage) Index() (uint64, bool) {
	if m.ChainIndex == nil {
		return 0, false
	}
	return *m.ChainIndex, true
}

// GroupPayload is the signed plaintext of a group message.
type GroupPayload struct {
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   int64             `json:"timestamp"`
	SenderID    string            `json:"sender_id"`
	ChainIndex  uint64            `json:"chain_index"`
	GroupID     string            `json:"group_id"`
	SenderKeyID string            `json:"sender_key_id"`
}
