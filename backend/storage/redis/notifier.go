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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/eftrust/backend/models"
)

const groupNotifyPrefix = "group:notify:" // group:notify:{groupId}

// MessageNotification announces a stored group message. It carries no
// ciphertext; subscribers fetch the message from the directory.
type MessageNotification struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	GroupID     string `json:"group_id"`
	SenderID    string `json:"sender_id"`
	SenderKeyID string `json:"sender_key_id"`
}

// Notifier publishes group message notifications on Redis pub/sub.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// NotifyGroupMessage publishes a notification for real-time delivery.
func (n *Notifier) NotifyGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	notification, err := json.Marshal(MessageNotification{
		Type:        "new_group_message",
		MessageID:   msg.ID,
		GroupID:     msg.GroupID,
		SenderID:    msg.SenderID,
		SenderKeyID: msg.SenderKeyID,
	})
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, groupNotifyPrefix+msg.GroupID, notification).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe delivers notifications for groupID until ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, groupID string) (<-chan MessageNotification, error) {
	pubsub := n.rdb.Subscribe(ctx, groupNotifyPrefix+groupID)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan MessageNotification)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var note MessageNotification
				if err := json.Unmarshal([]byte(m.Payload), &note); err != nil {
					log.Printf("[Notifier] dropping malformed notification on %s: %v", m.Channel, err)
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
