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

// Package search maintains encrypted, searchable indexes of vault files.
//
// The directory only ever sees keyed tags and ciphertext: blind indexes are
// HMAC-SHA-256 tags of normalized terms, the Bloom filter holds keyed
// digests rather than terms, n-grams are tagged under their own key and the
// descriptive metadata is sealed with AES-256-GCM.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/errs"
	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/search/bloom"
	"github.com/efchatnet/eftrust/backend/storage"
	"github.com/efchatnet/eftrust/backend/storage/memory"
)

type Engine struct {
	provider crypto.Provider
	secrets  storage.LocalSecretStore
	store    storage.SearchStore
	cfg      config
	logger   *log.Logger

	keyMu sync.Mutex
	keys  map[string]*indexKeys
}

func New(provider crypto.Provider, secrets storage.LocalSecretStore, store storage.SearchStore, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cache == nil {
		cache := memory.NewSearchCache(memory.DefaultMaxCacheEntries)
		cache.SetClock(cfg.now)
		cfg.cache = cache
	}
	return &Engine{
		provider: provider,
		secrets:  secrets,
		store:    store,
		cfg:      cfg,
		logger:   cfg.logger,
		keys:     make(map[string]*indexKeys),
	}
}

func metadataAAD(fileID, userID string) []byte {
	return []byte(fileID + "\x00" + userID)
}

// GenerateSearchableIndex builds and persists the index for fileID, replacing
// any previous one.
func (e *Engine) GenerateSearchableIndex(ctx context.Context, fileID, userID string, md models.SearchableMetadata) (*models.SearchIndex, error) {
	keys, err := e.keysFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	terms := Terms(md, e.cfg.maxContentTokens)
	filter := bloom.New(e.cfg.bloomM, e.cfg.bloomK)
	blind := make([]string, 0, len(terms))
	ngramSet := make(map[string]struct{})

	for _, term := range terms {
		blind = append(blind, e.tag(keys.blind, term))
		filter.Add(e.provider.MAC(keys.bloom, []byte(term)))
		for _, g := range Ngrams(term, NgramSize) {
			ngramSet[e.tag(keys.ngram, g)] = struct{}{}
		}
	}
	sort.Strings(blind)
	ngrams := make([]string, 0, len(ngramSet))
	for g := range ngramSet {
		ngrams = append(ngrams, g)
	}
	sort.Strings(ngrams)

	plaintext, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	nonce, ciphertext, err := e.provider.Seal(keys.metadata, plaintext, metadataAAD(fileID, userID))
	if err != nil {
		return nil, fmt.Errorf("encrypt metadata: %w", err)
	}

	now := e.cfg.now()
	idx := &models.SearchIndex{
		FileID:            fileID,
		UserID:            userID,
		BlindIndexes:      blind,
		BloomFilter:       filter.Data(),
		EncryptedMetadata: models.EncryptedBlob{Ciphertext: ciphertext, Nonce: nonce},
		NgramIndexes:      ngrams,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.PutSearchIndex(ctx, idx); err != nil {
		return nil, errs.Directory("put search index", err)
	}

	e.invalidate(ctx, userID)
	e.logger.Printf("indexed file %s (%d terms)", fileID, len(terms))
	return idx, nil
}

// UpdateSearchIndex replaces the index of fileID.
func (e *Engine) UpdateSearchIndex(ctx context.Context, fileID, userID string, md models.SearchableMetadata) (*models.SearchIndex, error) {
	if err := e.DeleteSearchIndex(ctx, fileID); err != nil {
		return nil, err
	}
	return e.GenerateSearchableIndex(ctx, fileID, userID, md)
}

// DeleteSearchIndex tombstones the index of fileID. Deleting a missing index
// succeeds.
func (e *Engine) DeleteSearchIndex(ctx context.Context, fileID string) error {
	idx, err := e.store.GetSearchIndex(ctx, fileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errs.Directory("get search index", err)
	}
	if idx.Deleted() {
		return nil
	}
	if err := e.store.DeleteSearchIndex(ctx, fileID); err != nil {
		return errs.Directory("delete search index", err)
	}
	e.invalidate(ctx, idx.UserID)
	e.logger.Printf("deleted index for file %s", fileID)
	return nil
}

func (e *Engine) invalidate(ctx context.Context, userID string) {
	if err := e.cfg.cache.InvalidateUser(ctx, userID); err != nil {
		e.logger.Printf("cache invalidation for user %s failed: %v", userID, err)
	}
}

type candidate struct {
	exact      int
	ngram      int
	bloomScore int
	bloomTerms []string
}

// SearchFiles searches userID's indexes for query.
func (e *Engine) SearchFiles(ctx context.Context, userID, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	qterms := QueryTerms(query)
	if len(qterms) == 0 {
		return nil, errs.ErrQueryTooShort
	}
	opts = normalizeOptions(opts)

	keys, err := e.keysFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	cacheKey := e.cacheKey(keys, userID, qterms, opts)
	if results, ok := e.cached(ctx, keys, userID, cacheKey); ok {
		return results, nil
	}

	indexes, err := e.store.QueryUserSearchIndexes(ctx, userID)
	if err != nil {
		return nil, errs.Directory("query search indexes", err)
	}

	qblind := make([]string, len(qterms))
	qbloom := make([][]byte, len(qterms))
	qngramSet := make(map[string]struct{})
	for i, term := range qterms {
		qblind[i] = e.tag(keys.blind, term)
		qbloom[i] = e.provider.MAC(keys.bloom, []byte(term))
		for _, g := range Ngrams(term, NgramSize) {
			qngramSet[e.tag(keys.ngram, g)] = struct{}{}
		}
	}

	var results []models.SearchResult
	for i := range indexes {
		idx := &indexes[i]
		if idx.UserID != userID || idx.Deleted() {
			continue
		}
		c := e.score(idx, qterms, qblind, qbloom, qngramSet, opts.Fuzzy)
		if c.exact == 0 && c.ngram == 0 && c.bloomScore == 0 {
			continue
		}

		md, err := e.decryptMetadata(keys, idx)
		if err != nil {
			e.logger.Printf("skipping file %s: %v", idx.FileID, err)
			continue
		}

		score := c.exact + c.ngram
		if c.bloomScore > 0 {
			if score == 0 {
				// Bloom hits alone may be false positives; keep only the
				// ones the decrypted terms confirm.
				score = BloomMatchScore * confirmed(md, c.bloomTerms, e.cfg.maxContentTokens)
			} else {
				score += c.bloomScore
			}
		}
		if score == 0 {
			continue
		}
		if !matchesFileType(md, opts.FileTypes) {
			continue
		}
		results = append(results, models.SearchResult{FileID: idx.FileID, Score: score, Metadata: *md})
	}

	sortResults(results, opts.SortBy)
	results = paginate(results, opts.Limit, opts.Offset)

	e.storeCached(ctx, keys, userID, cacheKey, results)
	return results, nil
}

func (e *Engine) score(idx *models.SearchIndex, qterms, qblind []string, qbloom [][]byte, qngrams map[string]struct{}, fuzzy bool) candidate {
	var c candidate

	blind := make(map[string]struct{}, len(idx.BlindIndexes))
	for _, t := range idx.BlindIndexes {
		blind[t] = struct{}{}
	}
	for _, t := range qblind {
		if _, ok := blind[t]; ok {
			c.exact += ExactMatchScore
		}
	}
	if !fuzzy {
		return c
	}

	if filter, err := bloom.FromData(idx.BloomFilter); err != nil {
		e.logger.Printf("file %s has an unreadable bloom filter: %v", idx.FileID, err)
	} else {
		for i, digest := range qbloom {
			if filter.Contains(digest) {
				c.bloomScore += BloomMatchScore
				c.bloomTerms = append(c.bloomTerms, qterms[i])
			}
		}
	}

	if len(qngrams) > 0 {
		for _, t := range idx.NgramIndexes {
			if _, ok := qngrams[t]; ok {
				c.ngram += NgramMatchScore
			}
		}
	}
	return c
}

func confirmed(md *models.SearchableMetadata, hits []string, maxContentTokens int) int {
	terms := make(map[string]struct{})
	for _, t := range Terms(*md, maxContentTokens) {
		terms[t] = struct{}{}
	}
	n := 0
	for _, h := range hits {
		if _, ok := terms[h]; ok {
			n++
		}
	}
	return n
}

func (e *Engine) decryptMetadata(keys *indexKeys, idx *models.SearchIndex) (*models.SearchableMetadata, error) {
	plaintext, err := e.provider.Open(keys.metadata, idx.EncryptedMetadata.Nonce, idx.EncryptedMetadata.Ciphertext, metadataAAD(idx.FileID, idx.UserID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryptionFailed, err)
	}
	var md models.SearchableMetadata
	if err := json.Unmarshal(plaintext, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &md, nil
}

func matchesFileType(md *models.SearchableMetadata, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if strings.EqualFold(t, md.FileType) {
			return true
		}
	}
	return false
}

func normalizeOptions(opts models.SearchOptions) models.SearchOptions {
	if opts.Limit <= 0 || opts.Limit > MaxSearchResults {
		opts.Limit = MaxSearchResults
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.SortBy == "" {
		opts.SortBy = models.SortByRelevance
	}
	return opts
}

func sortResults(results []models.SearchResult, by models.SortBy) {
	switch by {
	case models.SortByName:
		sort.SliceStable(results, func(i, j int) bool {
			a, b := strings.ToLower(results[i].Metadata.FileName), strings.ToLower(results[j].Metadata.FileName)
			if a != b {
				return a < b
			}
			return results[i].FileID < results[j].FileID
		})
	case models.SortByDate:
		sort.SliceStable(results, func(i, j int) bool {
			a, b := results[i].Metadata.ModifiedAt, results[j].Metadata.ModifiedAt
			if !a.Equal(b) {
				return a.After(b)
			}
			return results[i].FileID < results[j].FileID
		})
	default:
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Score != results[j].Score {
				return results[i].Score > results[j].Score
			}
			return results[i].FileID < results[j].FileID
		})
	}
}

func paginate(results []models.SearchResult, limit, offset int) []models.SearchResult {
	if offset >= len(results) {
		return []models.SearchResult{}
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
