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

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

func (s *Store) GetGroupSession(ctx context.Context, groupID string) (*models.GroupSession, error) {
	session := &models.GroupSession{
		GroupID:    groupID,
		SenderKeys: make(map[string]*models.SenderKey),
		Members:    make(map[string]models.GroupMemberKeys),
	}

	var current []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT created_by, epoch, version, current_sender_keys, created_at, updated_at
		FROM group_sessions
		WHERE group_id = $1`, groupID).Scan(
		&session.CreatedBy, &session.Epoch, &session.Version, &current, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(current, &session.CurrentSenderKeys); err != nil {
		return nil, fmt.Errorf("decode current sender keys: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, public_key, added_at, added_by, is_active
		FROM group_members
		WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.GroupMemberKeys
		if err := rows.Scan(&m.UserID, &m.PublicKey, &m.AddedAt, &m.AddedBy, &m.IsActive); err != nil {
			return nil, err
		}
		session.Members[m.UserID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keyRows, err := s.db.QueryContext(ctx, `
		SELECT sender_key_id, owner_id, epoch, signing_public_key, distributions,
		       created_at, expires_at, retired_at
		FROM sender_keys
		WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer keyRows.Close()
	for keyRows.Next() {
		key := &models.SenderKey{GroupID: groupID}
		var distributions []byte
		var retiredAt sql.NullTime
		if err := keyRows.Scan(&key.ID, &key.OwnerID, &key.Epoch, &key.SigningPublicKey,
			&distributions, &key.CreatedAt, &key.ExpiresAt, &retiredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(distributions, &key.Distributions); err != nil {
			return nil, fmt.Errorf("decode distributions of %s: %w", key.ID, err)
		}
		if retiredAt.Valid {
			t := retiredAt.Time
			key.RetiredAt = &t
		}
		session.SenderKeys[key.ID] = key
	}

	return session, keyRows.Err()
}

// PutGroupSession upserts the session, its members and its sender keys in
// one transaction. The session row is only written when the stored version
// is the one the caller read; otherwise nothing changes and ErrConflict is
// returned. The epoch never moves backwards.
func (s *Store) PutGroupSession(ctx context.Context, session *models.GroupSession) error {
	current, err := json.Marshal(session.CurrentSenderKeys)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO group_sessions (group_id, created_by, epoch, version, current_sender_keys, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (group_id) DO UPDATE
		SET epoch = GREATEST(group_sessions.epoch, $3), version = $4, current_sender_keys = $5, updated_at = $7
		WHERE group_sessions.version = $4 - 1`,
		session.GroupID, session.CreatedBy, session.Epoch, session.Version, current, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: group %s changed since version %d", storage.ErrConflict, session.GroupID, session.Version-1)
	}

	memberIDs := make([]string, 0, len(session.Members))
	for id := range session.Members {
		memberIDs = append(memberIDs, id)
	}
	sort.Strings(memberIDs)
	for _, id := range memberIDs {
		m := session.Members[id]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, public_key, added_at, added_by, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (group_id, user_id) DO UPDATE
			SET public_key = $3, added_at = $4, added_by = $5, is_active = $6`,
			session.GroupID, m.UserID, m.PublicKey, m.AddedAt, m.AddedBy, m.IsActive)
		if err != nil {
			return err
		}
	}

	keyIDs := make([]string, 0, len(session.SenderKeys))
	for id := range session.SenderKeys {
		keyIDs = append(keyIDs, id)
	}
	sort.Strings(keyIDs)
	for _, id := range keyIDs {
		key := session.SenderKeys[id]
		distributions, err := json.Marshal(key.Distributions)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sender_keys (sender_key_id, group_id, owner_id, epoch, signing_public_key,
				distributions, created_at, expires_at, retired_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (sender_key_id) DO UPDATE
			SET retired_at = COALESCE(sender_keys.retired_at, $9)`,
			key.ID, session.GroupID, key.OwnerID, key.Epoch, key.SigningPublicKey,
			distributions, key.CreatedAt, key.ExpiresAt, key.RetiredAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// IsActiveMember reports whether userID is an active member of groupID.
func (s *Store) IsActiveMember(ctx context.Context, groupID, userID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_active FROM group_members
		WHERE group_id = $1 AND user_id = $2`, groupID, userID).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return active, err
}

func (s *Store) SaveGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	ciphertexts, err := json.Marshal(msg.Ciphertexts)
	if err != nil {
		return err
	}
	var chainIndex sql.NullInt64
	if idx, ok := msg.Index(); ok {
		chainIndex = sql.NullInt64{Int64: int64(idx), Valid: true}
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_messages
		(message_id, group_id, sender_id, sender_key_id, ciphertexts, signature, chain_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.GroupID, msg.SenderID, msg.SenderKeyID, ciphertexts,
		msg.Signature, chainIndex, timestamp)
	if err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyGroupMessage(ctx, msg); err != nil {
			s.logger.Printf("notify group %s: %v", msg.GroupID, err)
		}
	}
	return nil
}

func (s *Store) GetGroupMessages(ctx context.Context, groupID string, limit int) ([]models.GroupMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, group_id, sender_id, sender_key_id, ciphertexts, signature, chain_index, created_at
		FROM group_messages
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.GroupMessage
	for rows.Next() {
		var msg models.GroupMessage
		var ciphertexts []byte
		var chainIndex sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.GroupID, &msg.SenderID, &msg.SenderKeyID,
			&ciphertexts, &msg.Signature, &chainIndex, &msg.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ciphertexts, &msg.Ciphertexts); err != nil {
			return nil, fmt.Errorf("decode ciphertexts of %s: %w", msg.ID, err)
		}
		if chainIndex.Valid {
			idx := uint64(chainIndex.Int64)
			msg.ChainIndex = &idx
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
