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
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

// InitializeGroupSession loads the session of groupID, creating it with the
// local user as creator when the directory has none.
func (m *Manager) InitializeGroupSession(ctx context.Context, groupID string, memberIDs []string) (*models.GroupSession, error) {
	mu := m.locks.forGroup(groupID)
	mu.Lock()
	defer mu.Unlock()

	session, err := m.fetchSession(ctx, groupID)
	if err == nil {
		return session.Clone(), nil
	}
	if !errors.Is(err, errs.ErrUninitialized) {
		return nil, err
	}
	created, err := m.createLocked(ctx, groupID, m.userID, memberIDs)
	if errors.Is(err, storage.ErrConflict) {
		// another member created it first
		return m.editableSession(ctx, groupID)
	}
	return created, err
}

// CreateNewGroupSession creates the session of groupID and the creator's
// first sender key. The creator must be the local user since the private
// half of the sender key stays on this device.
func (m *Manager) CreateNewGroupSession(ctx context.Context, groupID, creatorID string, memberIDs []string) (*models.GroupSession, error) {
	mu := m.locks.forGroup(groupID)
	mu.Lock()
	defer mu.Unlock()
	return m.createLocked(ctx, groupID, creatorID, memberIDs)
}

func (m *Manager) createLocked(ctx context.Context, groupID, creatorID string, memberIDs []string) (*models.GroupSession, error) {
	if creatorID != m.userID {
		return nil, fmt.Errorf("create group %s: creator %s is not the local user %s", groupID, creatorID, m.userID)
	}
	if _, err := m.EnsureIdentity(ctx); err != nil {
		return nil, err
	}

	now := m.cfg.now()
	session := &models.GroupSession{
		GroupID:   groupID,
		CreatedBy: creatorID,
		Epoch:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	normalize(session)

	ids := append([]string{creatorID}, memberIDs...)
	for _, userID := range ids {
		if _, seen := session.Members[userID]; seen {
			continue
		}
		member, err := m.memberKeys(ctx, userID)
		if errors.Is(err, errs.ErrMissingMemberKey) {
			m.logger.Printf("group %s: skipping %s: %v", groupID, userID, err)
		} else if err != nil {
			return nil, err
		}
		member.AddedAt = now
		member.AddedBy = creatorID
		session.Members[userID] = member
	}

	if _, _, err := m.rotateLocked(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Printf("created group session %s with %d members", groupID, len(session.ActiveMembers()))
	return session.Clone(), nil
}

// memberKeys fetches userID's public key. A member without one is returned
// inactive together with ErrMissingMemberKey.
func (m *Manager) memberKeys(ctx context.Context, userID string) (models.GroupMemberKeys, error) {
	member := models.GroupMemberKeys{UserID: userID}
	key, err := m.directory.GetPublicKey(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return member, fmt.Errorf("%w: %s", errs.ErrMissingMemberKey, userID)
	}
	if err != nil {
		return member, errs.Directory("get public key", err)
	}
	member.PublicKey = key.PublicKey
	member.IsActive = true
	return member, nil
}

// RotateSenderKey replaces the local user's sender key in groupID.
func (m *Manager) RotateSenderKey(ctx context.Context, groupID string) (*models.SenderKey, error) {
	mu := m.locks.forGroup(groupID)
	mu.Lock()
	defer mu.Unlock()

	var key *models.SenderKey
	err := m.updateSession(ctx, groupID, func(session *models.GroupSession) error {
		var err error
		key, _, err = m.rotateLocked(ctx, session)
		return err
	})
	return key, err
}

// rotateLocked creates a sender key for the local user, seals its chain seed
// to the active members and persists it. Private state is stored locally
// before the session is published.
func (m *Manager) rotateLocked(ctx context.Context, session *models.GroupSession) (*models.SenderKey, *models.SenderKeyState, error) {
	if member, ok := session.Members[m.userID]; !ok || !member.IsActive {
		return nil, nil, fmt.Errorf("%w: %s in group %s", errs.ErrNotMember, m.userID, session.GroupID)
	}

	signing, err := m.provider.GenerateSigningKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate sender key: %w", err)
	}
	seed, err := m.provider.RandomBytes(chainKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("generate chain key: %w", err)
	}

	now := m.cfg.now()
	key := &models.SenderKey{
		ID:               uuid.NewString(),
		GroupID:          session.GroupID,
		OwnerID:          m.userID,
		Epoch:            session.Epoch,
		SigningPublicKey: signing.PublicKey,
		Distributions:    make(map[string]models.SealedEnvelope),
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.cfg.rotationInterval),
	}
	for _, member := range session.ActiveMembers() {
		env, err := sealTo(m.provider, member.PublicKey, nil, seedContext(session.GroupID, key.ID, member.UserID), seed)
		if err != nil {
			return nil, nil, fmt.Errorf("seal chain seed for %s: %w", member.UserID, err)
		}
		key.Distributions[member.UserID] = env
	}

	state := &models.SenderKeyState{
		SenderKeyID:       key.ID,
		SigningPrivateKey: signing.SecretKey,
		ChainKey:          seed,
		ChainIndex:        0,
	}
	if err := m.putSecret(ctx, senderStateName(key.ID), state); err != nil {
		return nil, nil, err
	}
	if err := m.putSecret(ctx, chainStateName(key.ID), models.ChainState{SenderKeyID: key.ID, ChainKey: seed}); err != nil {
		return nil, nil, err
	}

	previous, hadPrevious := session.CurrentSenderKeyID(m.userID)
	if hadPrevious {
		if old, ok := session.SenderKeys[previous]; ok && old.RetiredAt == nil {
			retired := now
			old.RetiredAt = &retired
		}
	}
	session.SenderKeys[key.ID] = key
	session.CurrentSenderKeys[m.userID] = key.ID

	if err := m.writeSession(ctx, session); err != nil {
		m.dropSenderState(ctx, session.GroupID, key.ID)
		return nil, nil, err
	}

	if hadPrevious {
		// Retired keys only decrypt; their signing key is no longer needed.
		if err := m.secrets.Delete(ctx, senderStateName(previous)); err != nil {
			m.logger.Printf("group %s: dropping retired sender state failed: %v", session.GroupID, err)
		}
	}
	m.logger.Printf("group %s: user %s rotated to sender key %s (epoch %d)", session.GroupID, m.userID, key.ID, key.Epoch)
	return key, state, nil
}

// dropSenderState removes the local state of a sender key that never got
// published.
func (m *Manager) dropSenderState(ctx context.Context, groupID, keyID string) {
	for _, name := range []string{senderStateName(keyID), chainStateName(keyID)} {
		if err := m.secrets.Delete(ctx, name); err != nil {
			m.logger.Printf("group %s: dropping unpublished sender state failed: %v", groupID, err)
		}
	}
}
