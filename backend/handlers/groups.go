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
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

// GroupHandler serves group sessions and messages. The server never sees
// chain keys or plaintext; it only checks that callers belong to the group.
type GroupHandler struct {
	store storage.GroupStore
}

func NewGroupHandler(store storage.GroupStore) *GroupHandler {
	return &GroupHandler{store: store}
}

// session loads groupID and checks that userID is listed in it. Removed
// members stay listed so they can still read the history they were part of.
func (h *GroupHandler) session(w http.ResponseWriter, r *http.Request, groupID, userID string) (*models.GroupSession, bool) {
	session, err := h.store.GetGroupSession(r.Context(), groupID)
	if isNotFound(err) {
		http.Error(w, "Group not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Printf("[GroupHandler] Error loading group %s: %v", groupID, err)
		http.Error(w, "Failed to load group", http.StatusInternalServerError)
		return nil, false
	}
	if _, ok := session.Members[userID]; !ok {
		http.Error(w, "Not a member of this group", http.StatusForbidden)
		return nil, false
	}
	return session, true
}

func (h *GroupHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupId"]

	session, ok := h.session(w, r, groupID, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// PutSession creates a group or replaces its session. A new group may only be
// created by its creator; an existing one may only be changed by an active member.
func (h *GroupHandler) PutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupId"]

	var session models.GroupSession
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		http.Error(w, "Invalid session", http.StatusBadRequest)
		return
	}
	if session.GroupID != "" && session.GroupID != groupID {
		http.Error(w, "Group id mismatch", http.StatusBadRequest)
		return
	}
	session.GroupID = groupID

	existing, err := h.store.GetGroupSession(r.Context(), groupID)
	switch {
	case isNotFound(err):
		if session.CreatedBy != userID {
			http.Error(w, "Only the creator may create a group", http.StatusForbidden)
			return
		}
	case err != nil:
		log.Printf("[GroupHandler] Error loading group %s: %v", groupID, err)
		http.Error(w, "Failed to load group", http.StatusInternalServerError)
		return
	default:
		if member, ok := existing.Members[userID]; !ok || !member.IsActive {
			http.Error(w, "Not a member of this group", http.StatusForbidden)
			return
		}
		session.CreatedBy = existing.CreatedBy
		session.CreatedAt = existing.CreatedAt
	}

	if err := h.store.PutGroupSession(r.Context(), &session); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			http.Error(w, "Group changed, reload and retry", http.StatusConflict)
			return
		}
		log.Printf("[GroupHandler] Error saving group %s: %v", groupID, err)
		http.Error(w, "Failed to save group", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"group_id": groupID, "epoch": session.Epoch, "version": session.Version})
}

func (h *GroupHandler) SendGroupMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupId"]

	var msg models.GroupMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid message", http.StatusBadRequest)
		return
	}

	session, ok := h.session(w, r, groupID, userID)
	if !ok {
		return
	}
	if !session.Members[userID].IsActive {
		http.Error(w, "Not a member of this group", http.StatusForbidden)
		return
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.GroupID = groupID
	msg.SenderID = userID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if err := h.store.SaveGroupMessage(r.Context(), &msg); err != nil {
		log.Printf("[GroupHandler] Error saving message for group %s: %v", groupID, err)
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message_id": msg.ID})
}

func (h *GroupHandler) GetGroupMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupId"]

	limit, err := limitParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := h.session(w, r, groupID, userID); !ok {
		return
	}

	messages, err := h.store.GetGroupMessages(r.Context(), groupID, limit)
	if err != nil {
		log.Printf("[GroupHandler] Error loading messages for group %s: %v", groupID, err)
		http.Error(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.GroupMessage{}
	}

	writeJSON(w, http.StatusOK, messages)
}
