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

type KeyHandler struct {
	store storage.KeyDirectory
}

func NewKeyHandler(store storage.KeyDirectory) *KeyHandler {
	return &KeyHandler{store: store}
}

// PublishKey stores the caller's ML-KEM public key, replacing any earlier one.
func (h *KeyHandler) PublishKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	var registration models.KeyRegistration
	if err := json.NewDecoder(r.Body).Decode(&registration); err != nil || len(registration.PublicKey) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.PublishPublicKey(r.Context(), userID, registration.PublicKey); err != nil {
		log.Printf("[KeyHandler] Error saving key for user %s: %v", userID, err)
		http.Error(w, "Failed to save key", http.StatusInternalServerError)
		return
	}

	log.Printf("[KeyHandler] Published %d byte key for user %s", len(registration.PublicKey), userID)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "key published"})
}

func (h *KeyHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	userID := mux.Vars(r)["userId"]

	key, err := h.store.GetPublicKey(r.Context(), userID)
	if isNotFound(err) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[KeyHandler] Error loading key for user %s: %v", userID, err)
		http.Error(w, "Failed to load key", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, key)
}
