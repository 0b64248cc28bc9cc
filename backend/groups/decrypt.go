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
	"context"
	"encoding/json"
	"fmt"

	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
)

// DecryptGroupMessage decrypts msg for the local user and verifies its
// signature. Any failure discards the payload.
func (m *Manager) DecryptGroupMessage(ctx context.Context, msg *models.GroupMessage) (*models.GroupPayload, error) {
	index, ok := msg.Index()
	if !ok {
		return nil, errs.ErrMissingChainIndex
	}
	env, ok := msg.Ciphertexts[m.userID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", errs.ErrNoCiphertextForUser, msg.ID)
	}

	key, err := m.senderKey(ctx, msg.GroupID, msg.SenderKeyID)
	if err != nil {
		return nil, err
	}
	if key.OwnerID != msg.SenderID {
		return nil, fmt.Errorf("%w: sender key %s does not belong to %s", errs.ErrSignatureInvalid, key.ID, msg.SenderID)
	}

	identity, err := m.loadIdentity(ctx)
	if err != nil {
		return nil, err
	}
	base, err := m.chainBase(ctx, key, identity.SecretKey)
	if err != nil {
		return nil, err
	}
	ck, err := chainKeyAt(*base, index, m.cfg.maxChainLength)
	if err != nil {
		return nil, err
	}
	mk, err := messageKey(m.provider, ck, index)
	if err != nil {
		return nil, err
	}

	plaintext, err := openFrom(m.provider, identity.SecretKey, env, mk, messageContext(msg.GroupID, key.ID, index, m.userID))
	if err != nil {
		return nil, err
	}
	if err := m.provider.Verify(key.SigningPublicKey, plaintext, msg.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSignatureInvalid, err)
	}

	var payload models.GroupPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryptionFailed, err)
	}
	if payload.SenderID != msg.SenderID || payload.ChainIndex != index ||
		payload.GroupID != msg.GroupID || payload.SenderKeyID != msg.SenderKeyID {
		return nil, fmt.Errorf("%w: payload does not match envelope", errs.ErrSignatureInvalid)
	}
	return &payload, nil
}

// senderKey looks a sender key up in the cached session, refreshing it from
// the directory when the key is unknown.
func (m *Manager) senderKey(ctx context.Context, groupID, keyID string) (*models.SenderKey, error) {
	if s, ok := m.sessions.get(groupID); ok {
		if key, ok := s.SenderKeys[keyID]; ok {
			return key, nil
		}
	}
	s, err := m.fetchSession(ctx, groupID)
	if err != nil {
		return nil, err
	}
	key, ok := s.SenderKeys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sender key %s", errs.ErrDecryptionFailed, keyID)
	}
	return key, nil
}

// chainBase returns the recipient chain state of key, opening the chain
// seed addressed to the local user on first use.
func (m *Manager) chainBase(ctx context.Context, key *models.SenderKey, identitySecret []byte) (*models.ChainState, error) {
	var state models.ChainState
	found, err := m.getSecret(ctx, chainStateName(key.ID), &state)
	if err != nil {
		return nil, err
	}
	if found {
		return &state, nil
	}

	env, ok := key.Distributions[m.userID]
	if !ok {
		return nil, fmt.Errorf("%w: no chain seed in sender key %s", errs.ErrNoCiphertextForUser, key.ID)
	}
	seed, err := openFrom(m.provider, identitySecret, env, nil, seedContext(key.GroupID, key.ID, m.userID))
	if err != nil {
		return nil, err
	}
	state = models.ChainState{SenderKeyID: key.ID, ChainKey: seed}
	if err := m.putSecret(ctx, chainStateName(key.ID), state); err != nil {
		return nil, err
	}
	return &state, nil
}

// DecryptedMessage is one entry of a group history.
type DecryptedMessage struct {
	Message models.GroupMessage
	Payload *models.GroupPayload
	Err     error
}

// History fetches up to limit recent messages of groupID and decrypts each.
// Messages that fail to decrypt carry their error instead of a payload.
func (m *Manager) History(ctx context.Context, groupID string, limit int) ([]DecryptedMessage, error) {
	messages, err := m.directory.GetGroupMessages(ctx, groupID, limit)
	if err != nil {
		return nil, errs.Directory("get group messages", err)
	}
	out := make([]DecryptedMessage, len(messages))
	for i := range messages {
		out[i].Message = messages[i]
		out[i].Payload, out[i].Err = m.DecryptGroupMessage(ctx, &messages[i])
	}
	return out, nil
}
