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

package groups

import (
	"context"
	"fmt"

	"github.com/efchatnet/eftrust/backend/models"
)

// AddGroupMember adds userID to groupID and rotates the local sender key so
// the new member cannot read earlier messages. Both land in one write.
func (m *Manager) AddGroupMember(ctx context.Context, groupID, userID string) error {
	mu := m.locks.forGroup(groupID)
	mu.Lock()
	defer mu.Unlock()

	return m.updateSession(ctx, groupID, func(session *models.GroupSession) error {
		if existing, ok := session.Members[userID]; ok && existing.IsActive {
			return nil
		}
		member, err := m.memberKeys(ctx, userID)
		if err != nil {
			return fmt.Errorf("add %s to group %s: %w", userID, groupID, err)
		}
		member.AddedAt = m.cfg.now()
		member.AddedBy = m.userID
		session.Members[userID] = member
		session.Epoch++

		if _, _, err := m.rotateLocked(ctx, session); err != nil {
			return err
		}
		m.logger.Printf("group %s: added %s (epoch %d)", groupID, userID, session.Epoch)
		return nil
	})
}

// RemoveGroupMember deactivates userID. The member stays in the session for
// history, but receives nothing sent after the removal.
func (m *Manager) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	mu := m.locks.forGroup(groupID)
	mu.Lock()
	defer mu.Unlock()

	return m.updateSession(ctx, groupID, func(session *models.GroupSession) error {
		member, ok := session.Members[userID]
		if !ok || !member.IsActive {
			return nil
		}
		member.IsActive = false
		session.Members[userID] = member
		session.Epoch++

		if userID == m.userID {
			if err := m.writeSession(ctx, session); err != nil {
				return err
			}
		} else if _, _, err := m.rotateLocked(ctx, session); err != nil {
			return err
		}
		m.logger.Printf("group %s: removed %s (epoch %d)", groupID, userID, session.Epoch)
		return nil
	})
}
