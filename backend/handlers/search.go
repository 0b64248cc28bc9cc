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

package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

// SearchHandler stores blind search indexes. Only the owner of an index may
// read, replace or delete it.
type SearchHandler struct {
	store storage.SearchStore
}

func NewSearchHandler(store storage.SearchStore) *SearchHandler {
	return &SearchHandler{store: store}
}

func (h *SearchHandler) GetIndex(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["fileId"]

	idx, err := h.store.GetSearchIndex(r.Context(), fileID)
	if isNotFound(err) {
		http.Error(w, "Index not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[SearchHandler] Error loading index %s: %v", fileID, err)
		http.Error(w, "Failed to load index", http.StatusInternalServerError)
		return
	}
	if idx.UserID != userID {
		http.Error(w, "Not the owner of this index", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, idx)
}

func (h *SearchHandler) PutIndex(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["fileId"]

	var idx models.SearchIndex
	if err := json.NewDecoder(r.Body).Decode(&idx); err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	if idx.FileID != "" && idx.FileID != fileID {
		http.Error(w, "File id mismatch", http.StatusBadRequest)
		return
	}
	idx.FileID = fileID
	if idx.UserID != userID {
		http.Error(w, "Not the owner of this index", http.StatusForbidden)
		return
	}

	existing, err := h.store.GetSearchIndex(r.Context(), fileID)
	switch {
	case isNotFound(err):
	case err != nil:
		log.Printf("[SearchHandler] Error loading index %s: %v", fileID, err)
		http.Error(w, "Failed to load index", http.StatusInternalServerError)
		return
	case existing.UserID != userID:
		http.Error(w, "Not the owner of this index", http.StatusForbidden)
		return
	}

	if err := h.store.PutSearchIndex(r.Context(), &idx); err != nil {
		log.Printf("[SearchHandler] Error saving index %s: %v", fileID, err)
		http.Error(w, "Failed to save index", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"file_id": fileID})
}

// DeleteIndex tombstones an index. Deleting a missing index succeeds.
func (h *SearchHandler) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["fileId"]

	existing, err := h.store.GetSearchIndex(r.Context(), fileID)
	switch {
	case isNotFound(err):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		log.Printf("[SearchHandler] Error loading index %s: %v", fileID, err)
		http.Error(w, "Failed to load index", http.StatusInternalServerError)
		return
	case existing.UserID != userID:
		http.Error(w, "Not the owner of this index", http.StatusForbidden)
		return
	}

	if err := h.store.DeleteSearchIndex(r.Context(), fileID); err != nil {
		log.Printf("[SearchHandler] Error deleting index %s: %v", fileID, err)
		http.Error(w, "Failed to delete index", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListIndexes returns the caller's live indexes.
func (h *SearchHandler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	indexes, err := h.store.QueryUserSearchIndexes(r.Context(), userID)
	if err != nil {
		log.Printf("[SearchHandler] Error listing indexes for user %s: %v", userID, err)
		http.Error(w, "Failed to list indexes", http.StatusInternalServerError)
		return
	}
	if indexes == nil {
		indexes = []models.SearchIndex{}
	}

	writeJSON(w, http.StatusOK, indexes)
}
