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
	"time"

	"github.com/efchatnet/eftrust/backend/models"
)

func (s *Store) GetPublicKey(ctx context.Context, userID string) (*models.MemberPublicKey, error) {
	key := &models.MemberPublicKey{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT public_key, created_at FROM member_public_keys
		WHERE user_id = $1`, userID).Scan(&key.PublicKey, &key.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return key, nil
}

func (s *Store) PublishPublicKey(ctx context.Context, userID string, publicKey []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_public_keys (user_id, public_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET public_key = $2, created_at = $3`,
		userID, publicKey, time.Now())
	return err
}
