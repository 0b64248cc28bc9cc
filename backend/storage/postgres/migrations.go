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

func (s *Store) Migrate() error {
	migrations := []string{
		// Member public keys (ML-KEM-768)
		`CREATE TABLE IF NOT EXISTS member_public_keys (
			user_id VARCHAR(255) PRIMARY KEY,
			public_key BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Group sessions
		`CREATE TABLE IF NOT EXISTS group_sessions (
			group_id VARCHAR(255) PRIMARY KEY,
			created_by VARCHAR(255) NOT NULL,
			epoch INTEGER NOT NULL DEFAULT 1,
			version BIGINT NOT NULL DEFAULT 1,
			current_sender_keys JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Group members; removed members stay with is_active = FALSE
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR(255) NOT NULL REFERENCES group_sessions(group_id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			public_key BYTEA,
			added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			added_by VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (group_id, user_id)
		)`,

		// Sender keys (public material and sealed chain seeds only)
		`CREATE TABLE IF NOT EXISTS sender_keys (
			sender_key_id VARCHAR(64) PRIMARY KEY,
			group_id VARCHAR(255) NOT NULL REFERENCES group_sessions(group_id) ON DELETE CASCADE,
			owner_id VARCHAR(255) NOT NULL,
			epoch INTEGER NOT NULL,
			signing_public_key BYTEA NOT NULL,
			distributions JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			retired_at TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sender_keys_group
		ON sender_keys(group_id)`,

		// Group messages
		`CREATE TABLE IF NOT EXISTS group_messages (
			message_id VARCHAR(64) PRIMARY KEY,
			group_id VARCHAR(255) NOT NULL,
			sender_id VARCHAR(255) NOT NULL,
			sender_key_id VARCHAR(64) NOT NULL,
			ciphertexts JSONB NOT NULL,
			signature BYTEA NOT NULL,
			chain_index BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_group_messages
		ON group_messages(group_id, created_at DESC)`,

		// Search indexes; deleted files keep a tombstone
		`CREATE TABLE IF NOT EXISTS search_indexes (
			file_id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			blind_indexes TEXT[] NOT NULL DEFAULT '{}',
			ngram_indexes TEXT[] NOT NULL DEFAULT '{}',
			bloom_bits BYTEA NOT NULL,
			bloom_m BIGINT NOT NULL,
			bloom_k INTEGER NOT NULL,
			metadata_ciphertext BYTEA NOT NULL,
			metadata_nonce BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_search_indexes_user
		ON search_indexes(user_id)
		WHERE deleted_at IS NULL`,

		`CREATE INDEX IF NOT EXISTS idx_search_blind_indexes
		ON search_indexes USING GIN (blind_indexes)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
