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

	"github.com/google/uuid"

	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
)

// SendGroupMessage encrypts content for every active member of groupID and
// stores the message in the directory.
func (m *Manager) SendGroupMessage(ctx context.Context, groupID, content string, metadata map[string]string) (*models.GroupMessage, error) {
	mu := m.locks.forGroup(groupID)
	mu.Lock()
	defer mu.Unlock()

	var (
		session *models.GroupSession
		key     *models.SenderKey
		state   *models.SenderKeyState
	)
	err := m.updateSession(ctx, groupID, func(s *models.GroupSession) error {
		session = s
		if member, ok := s.Members[m.userID]; !ok || !member.IsActive {
			return fmt.Errorf("%w: %s in group %s", errs.ErrNotMember, m.userID, groupID)
		}
		var err error
		if key, state, err = m.currentSenderKey(ctx, s); err != nil || key != nil {
			return err
		}
		key, state, err = m.rotateLocked(ctx, s)
		return err
	})
	if err != nil {
		return nil, err
	}

	index := state.ChainIndex
	mk, err := messageKey(m.provider, state.ChainKey, index)
	if err != nil {
		return nil, err
	}

	now := m.cfg.now()
	payload := models.GroupPayload{
		Content:     content,
		Metadata:    metadata,
		Timestamp:   now.UnixMilli(),
		SenderID:    m.userID,
		ChainIndex:  index,
		GroupID:     groupID,
		SenderKeyID: key.ID,
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	ciphertexts := make(map[string]models.SealedEnvelope)
	for _, member := range session.ActiveMembers() {
		env, err := sealTo(m.provider, member.PublicKey, mk, messageContext(groupID, key.ID, index, member.UserID), plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypt for %s: %w", member.UserID, err)
		}
		ciphertexts[member.UserID] = env
	}

	signature, err := m.provider.Sign(state.SigningPrivateKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	// Advance before the message leaves the device: a failed send burns the
	// index rather than reusing it.
	next := *state
	next.ChainKey = nextChainKey(state.ChainKey)
	next.ChainIndex = index + 1
	if err := m.putSecret(ctx, senderStateName(key.ID), &next); err != nil {
		return nil, err
	}

	msg := &models.GroupMessage{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		SenderID:    m.userID,
		SenderKeyID: key.ID,
		Ciphertexts: ciphertexts,
		Signature:   signature,
		ChainIndex:  &index,
		Timestamp:   now,
	}
	if err := m.directory.SaveGroupMessage(ctx, msg); err != nil {
		return nil, errs.Directory("save group message", err)
	}
	return msg, nil
}

// currentSenderKey returns the local user's usable sender key, or nil when
// a rotation is required first.
func (m *Manager) currentSenderKey(ctx context.Context, session *models.GroupSession) (*models.SenderKey, *models.SenderKeyState, error) {
	keyID, ok := session.CurrentSenderKeyID(m.userID)
	if !ok {
		return nil, nil, nil
	}
	key, ok := session.SenderKeys[keyID]
	if !ok {
		m.logger.Printf("group %s: current sender key %s missing from session", session.GroupID, keyID)
		return nil, nil, nil
	}

	var state models.SenderKeyState
	found, err := m.getSecret(ctx, senderStateName(keyID), &state)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case !found:
		m.logger.Printf("group %s: no local state for sender key %s, rotating", session.GroupID, keyID)
	case key.Retired():
		m.logger.Printf("group %s: sender key %s retired, rotating", session.GroupID, keyID)
	case key.Epoch < session.Epoch:
		m.logger.Printf("group %s: sender key %s predates epoch %d, rotating", session.GroupID, keyID, session.Epoch)
	case key.Expired(m.cfg.now()):
		m.logger.Printf("group %s: %v, rotating", session.GroupID, errs.ErrKeyExpired)
	case state.ChainIndex >= m.cfg.maxChainLength:
		m.logger.Printf("group %s: %v at index %d, rotating", session.GroupID, errs.ErrChainExhausted, state.ChainIndex)
	default:
		return key, &state, nil
	}
	return nil, nil, nil
}
