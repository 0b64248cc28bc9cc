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

type SortBy string

const (
	SortByRelevance SortBy = "relevance"
	SortByName      SortBy = "name"
	SortByDate      SortBy = "date"
)

// SearchableMetadata is the plaintext description of a vault file. It is
// only ever persisted encrypted.
type SearchableMetadata struct {
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type BloomFilterData struct {
	Bits []byte `json:"bits"`
	M    uint64 `json:"m"`
	K    uint64 `json:"k"`
}

type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

type SearchIndex struct {
	FileID            string          `json:"file_id" db:"file_id"`
	UserID            string          `json:"user_id" db:"user_id"`
	BlindIndexes      []string        `json:"blind_indexes" db:"blind_indexes"`
	BloomFilter       BloomFilterData `json:"bloom_filter"`
	EncryptedMetadata EncryptedBlob   `json:"encrypted_metadata"`
	NgramIndexes      []string        `json:"ngram_indexes" db:"ngram_indexes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Deleted reports whether the index has been tombstoned.
func (i *SearchIndex) Deleted() bool {
	return i.DeletedAt != nil
}

type SearchOptions struct {
	Fuzzy     bool     `json:"fuzzy"`
	FileTypes []string `json:"file_types,omitempty"`
	SortBy    SortBy   `json:"sort_by,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
}

type SearchResult struct {
	FileID   string             `json:"file_id"`
	Score    int                `json:"score"`
	Metadata SearchableMetadata `json:"metadata"`
}
