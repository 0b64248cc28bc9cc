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
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/eftrust/backend/models"
)

const searchIndexColumns = `file_id, user_id, blind_indexes, ngram_indexes, bloom_bits, bloom_m, bloom_k,
		metadata_ciphertext, metadata_nonce, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearchIndex(row rowScanner) (*models.SearchIndex, error) {
	var idx models.SearchIndex
	var bloomM, bloomK int64
	var deletedAt sql.NullTime
	err := row.Scan(&idx.FileID, &idx.UserID,
		pq.Array(&idx.BlindIndexes), pq.Array(&idx.NgramIndexes),
		&idx.BloomFilter.Bits, &bloomM, &bloomK,
		&idx.EncryptedMetadata.Ciphertext, &idx.EncryptedMetadata.Nonce,
		&idx.CreatedAt, &idx.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	idx.BloomFilter.M = uint64(bloomM)
	idx.BloomFilter.K = uint64(bloomK)
	if deletedAt.Valid {
		t := deletedAt.Time
		idx.DeletedAt = &t
	}
	return &idx, nil
}

// GetSearchIndex returns the index of fileID, tombstoned or not.
func (s *Store) GetSearchIndex(ctx context.Context, fileID string) (*models.SearchIndex, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+searchIndexColumns+`
		FROM search_indexes
		WHERE file_id = $1`, fileID)
	idx, err := scanSearchIndex(row)
	if err != nil {
		return nil, notFound(err)
	}
	return idx, nil
}

// PutSearchIndex replaces the index of a file wholesale, clearing any tombstone.
func (s *Store) PutSearchIndex(ctx context.Context, idx *models.SearchIndex) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_indexes (`+searchIndexColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL)
		ON CONFLICT (file_id) DO UPDATE
		SET user_id = $2, blind_indexes = $3, ngram_indexes = $4, bloom_bits = $5,
			bloom_m = $6, bloom_k = $7, metadata_ciphertext = $8, metadata_nonce = $9,
			created_at = $10, updated_at = $11, deleted_at = NULL`,
		idx.FileID, idx.UserID, pq.Array(idx.BlindIndexes), pq.Array(idx.NgramIndexes),
		idx.BloomFilter.Bits, int64(idx.BloomFilter.M), int64(idx.BloomFilter.K),
		idx.EncryptedMetadata.Ciphertext, idx.EncryptedMetadata.Nonce,
		idx.CreatedAt, idx.UpdatedAt)
	return err
}

// DeleteSearchIndex tombstones the index. Missing or already deleted
// indexes are left alone.
func (s *Store) DeleteSearchIndex(ctx context.Context, fileID string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_indexes
		SET deleted_at = $2, updated_at = $2
		WHERE file_id = $1 AND deleted_at IS NULL`,
		fileID, now)
	return err
}

func (s *Store) QueryUserSearchIndexes(ctx context.Context, userID string) ([]models.SearchIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+searchIndexColumns+`
		FROM search_indexes
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY file_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []models.SearchIndex
	for rows.Next() {
		idx, err := scanSearchIndex(rows)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, *idx)
	}

	return indexes, rows.Err()
}

// PurgeDeletedSearchIndexes removes tombstones older than cutoff.
// This should be run periodically as a background job.
func (s *Store) PurgeDeletedSearchIndexes(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM search_indexes
		WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
