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

// Package groups implements sender-key end-to-end encryption for groups.
//
// Each member sends under its own sender key: a signature keypair plus a
// hash ratchet of chain keys. The chain seed is sealed to every active
// member's ML-KEM-768 key when the sender key is created, and each message
// is additionally sealed to every active member under a key that mixes a
// fresh KEM secret with the per-message key. Membership changes bump the
// session epoch, which forces every sender onto a fresh key before its next
// message.
package groups

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

type Manager struct {
	userID    string
	provider  crypto.Provider
	secrets   storage.LocalSecretStore
	directory storage.Directory
	cfg       config
	logger    *log.Logger

	locks    stripedLocks
	sessions *sessionCache

	identityMu sync.Mutex
	identity   *crypto.KeyPair
}

// New returns a Manager acting for userID.
func New(userID string, provider crypto.Provider, secrets storage.LocalSecretStore, directory storage.Directory, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		userID:    userID,
		provider:  provider,
		secrets:   secrets,
		directory: directory,
		cfg:       cfg,
		logger:    cfg.logger,
		sessions:  newSessionCache(cfg.cacheSize),
	}
}

// UserID returns the local user.
func (m *Manager) UserID() string {
	return m.userID
}

func identityKeyName(userID string) string { return "identity:" + userID }
func senderStateName(keyID string) string  { return "sender-key:" + keyID }
func chainStateName(keyID string) string   { return "chain:" + keyID }

// EnsureIdentity loads or creates the local member keypair and makes sure
// the directory publishes its public half.
func (m *Manager) EnsureIdentity(ctx context.Context) ([]byte, error) {
	kp, err := m.loadIdentity(ctx)
	if errors.Is(err, errs.ErrUninitialized) {
		kp, err = m.provider.GenerateKEMKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		if err := m.putSecret(ctx, identityKeyName(m.userID), kp); err != nil {
			return nil, err
		}
		m.identityMu.Lock()
		m.identity = kp
		m.identityMu.Unlock()
		m.logger.Printf("generated identity for user %s", m.userID)
	} else if err != nil {
		return nil, err
	}

	published, err := m.directory.GetPublicKey(ctx, m.userID)
	switch {
	case err == nil && bytes.Equal(published.PublicKey, kp.PublicKey):
		return kp.PublicKey, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, errs.Directory("get public key", err)
	}
	if err := m.directory.PublishPublicKey(ctx, m.userID, kp.PublicKey); err != nil {
		return nil, errs.Directory("publish public key", err)
	}
	return kp.PublicKey, nil
}

func (m *Manager) loadIdentity(ctx context.Context) (*crypto.KeyPair, error) {
	m.identityMu.Lock()
	defer m.identityMu.Unlock()
	if m.identity != nil {
		return m.identity, nil
	}
	var kp crypto.KeyPair
	found, err := m.getSecret(ctx, identityKeyName(m.userID), &kp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: no identity for %s", errs.ErrUninitialized, m.userID)
	}
	m.identity = &kp
	return m.identity, nil
}

// getSecret decodes the JSON secret stored under name into v. A missing
// entry reports found == false; anything unreadable is ErrKeyStoreCorrupt.
func (m *Manager) getSecret(ctx context.Context, name string, v any) (bool, error) {
	data, err := m.secrets.Get(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		if errors.Is(err, errs.ErrKeyStoreCorrupt) {
			return false, err
		}
		return false, &errs.KeyStoreError{Key: name, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &errs.KeyStoreError{Key: name, Err: err}
	}
	return true, nil
}

func (m *Manager) putSecret(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := m.secrets.Set(ctx, name, data); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}

// fetchSession reads the session from the directory and caches it.
func (m *Manager) fetchSession(ctx context.Context, groupID string) (*models.GroupSession, error) {
	session, err := m.directory.GetGroupSession(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: group %s has no session", errs.ErrUninitialized, groupID)
	}
	if err != nil {
		return nil, errs.Directory("get group session", err)
	}
	normalize(session)
	m.sessions.put(session)
	return session, nil
}

// writeSession persists session as the next version and replaces the
// cached copy. A stale session fails with storage.ErrConflict.
func (m *Manager) writeSession(ctx context.Context, session *models.GroupSession) error {
	session.UpdatedAt = m.cfg.now()
	session.Version++
	if err := m.directory.PutGroupSession(ctx, session); err != nil {
		session.Version--
		return errs.Directory("put group session", err)
	}
	m.sessions.put(session.Clone())
	return nil
}

// maxWriteAttempts bounds the retries of a session update that keeps losing
// races with other members.
const maxWriteAttempts = 5

// updateSession runs fn on a fresh copy of the session of groupID. When the
// write inside fn conflicts, the session is read again and fn reapplied.
// Callers hold the group lock.
func (m *Manager) updateSession(ctx context.Context, groupID string, fn func(*models.GroupSession) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		var session *models.GroupSession
		if session, err = m.editableSession(ctx, groupID); err != nil {
			return err
		}
		if err = fn(session); !errors.Is(err, storage.ErrConflict) {
			return err
		}
		m.logger.Printf("group %s: session changed concurrently (attempt %d)", groupID, attempt)
	}
	return err
}

func normalize(s *models.GroupSession) {
	if s.SenderKeys == nil {
		s.SenderKeys = make(map[string]*models.SenderKey)
	}
	if s.Members == nil {
		s.Members = make(map[string]models.GroupMemberKeys)
	}
	if s.CurrentSenderKeys == nil {
		s.CurrentSenderKeys = make(map[string]string)
	}
}

// Session returns a copy of the group session, loading it if needed.
func (m *Manager) Session(ctx context.Context, groupID string) (*models.GroupSession, error) {
	if s, ok := m.sessions.get(groupID); ok {
		return s.Clone(), nil
	}
	s, err := m.fetchSession(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// editableSession returns a fresh copy of the directory's session for a
// read-modify-write. Callers hold the group lock.
func (m *Manager) editableSession(ctx context.Context, groupID string) (*models.GroupSession, error) {
	s, err := m.fetchSession(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}
