package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/oplock"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/chat"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
)

var acceptedFields = []string{"status", "chatRoomId", "notified"}

// HandleSessionAccepted pushes "match accepted" to both participants once.
func (d *Dispatcher) HandleSessionAccepted(ctx context.Context, ch docstore.Change) error {
	id := ch.ID()
	if match.IsQueueID(id) || ch.Deleted() {
		return nil
	}
	var before map[string]any
	if ch.Before != nil {
		before = ch.Before.Data
	}
	after := ch.After.Data
	if !oplock.Changed(before, after, acceptedFields...) || match.IsOwnWrite(before, after, WriterAccepted) {
		return nil
	}
	sess, err := match.ParseSession(id, after)
	if err != nil || sess.Status != match.StatusAccepted || sess.NotifiedAccepted {
		return nil
	}

	var (
		acquired bool
		cur      match.Session
	)
	err = d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		acquired = false
		doc, err := tx.Get(match.SessionPath(id))
		if err != nil {
			return err
		}
		if !doc.Exists {
			return nil
		}
		cur, err = match.ParseSession(id, doc.Data)
		if err != nil || cur.Status != match.StatusAccepted || cur.NotifiedAccepted {
			return nil
		}
		lock, err := oplock.Check(tx, match.SessionPath(id), "notifyAccepted:"+id)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}
		if err := tx.Merge(match.SessionPath(id), match.Stamp(map[string]any{
			"notified": map[string]any{
				"accepted":   true,
				"acceptedAt": docstore.ServerTimestamp,
			},
		}, WriterAccepted, "notifyAccepted")); err != nil {
			return err
		}
		if err := lock.Claim(tx, WriterAccepted); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		d.metrics.Event(WriterAccepted, "error")
		return fmt.Errorf("notify: mark session %s: %w", id, err)
	}
	if !acquired {
		d.metrics.Event(WriterAccepted, "skipped")
		return nil
	}

	targets, err := d.ResolveTokens(ctx, cur.Participants())
	if err != nil {
		d.log.Error("resolve tokens failed", zap.String("sessionId", id), zap.Error(err))
		d.metrics.Event(WriterAccepted, "resolve_failed")
		return nil
	}
	roomID := cur.ChatRoomID
	if roomID == "" {
		roomID = id
	}
	err = d.send(ctx, "match", targets, Message{
		Title: "It's a match!",
		Body:  "You both said yes. Say hello in chat.",
		Data: map[string]string{
			"type":       "match_accepted",
			"sessionId":  id,
			"chatRoomId": roomID,
		},
	})
	if err != nil {
		d.log.Error("match push failed", zap.String("sessionId", id), zap.Error(err))
		d.metrics.Event(WriterAccepted, "send_failed")
		return nil
	}
	d.log.Info("match push sent", zap.String("sessionId", id), zap.Int("devices", len(targets)))
	d.metrics.Event(WriterAccepted, "sent")
	return nil
}

// messagePath splits chat_rooms/{roomId}/messages/{messageId}.
func messagePath(path string) (roomID, msgID string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != chat.RoomsCollection || parts[2] != chat.MessagesCollection {
		return "", "", false
	}
	return parts[1], parts[3], parts[1] != "" && parts[3] != ""
}

// HandleChatMessage pushes a new message to the other participants and
// records the room's last message.
func (d *Dispatcher) HandleChatMessage(ctx context.Context, ch docstore.Change) error {
	roomID, msgID, ok := messagePath(ch.Path)
	if !ok || ch.Deleted() {
		return nil
	}
	var before map[string]any
	if ch.Before != nil {
		before = ch.Before.Data
	}
	if match.IsOwnWrite(before, ch.After.Data, WriterMessage) {
		return nil
	}
	if msg := chat.ParseMessage(roomID, msgID, ch.After.Data); msg.Notified {
		return nil
	}

	var (
		acquired   bool
		msg        chat.Message
		recipients []string
	)
	msgPath := docstore.Path(chat.MessagesPath(roomID), msgID)
	err := d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		acquired, recipients = false, nil
		md, err := tx.Get(msgPath)
		if err != nil {
			return err
		}
		if !md.Exists {
			return nil
		}
		msg = chat.ParseMessage(roomID, msgID, md.Data)
		if msg.Notified {
			return nil
		}
		rd, err := tx.Get(chat.RoomPath(roomID))
		if err != nil {
			return err
		}
		lock, err := oplock.Check(tx, msgPath, "notifyMessage:"+msgID)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}

		if err := tx.Merge(msgPath, match.Stamp(map[string]any{
			"notified":   true,
			"notifiedAt": docstore.ServerTimestamp,
		}, WriterMessage, "notifyMessage")); err != nil {
			return err
		}
		if rd.Exists {
			room, err := chat.ParseRoom(roomID, rd.Data)
			if err == nil && room.HasParticipant(msg.SenderID) {
				recipients = room.Recipients(msg.SenderID)
				var at any = docstore.ServerTimestamp
				if !msg.CreatedAt.IsZero() {
					at = msg.CreatedAt
				}
				if err := tx.Merge(chat.RoomPath(roomID), match.Stamp(map[string]any{
					"lastMessage":   chat.Preview(msg.Text),
					"lastMessageAt": at,
					"lastSenderId":  msg.SenderID,
				}, WriterMessage, "lastMessage")); err != nil {
					return err
				}
			}
		}
		if err := lock.Claim(tx, WriterMessage); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		d.metrics.Event(WriterMessage, "error")
		return fmt.Errorf("notify: mark message %s: %w", msgPath, err)
	}
	if !acquired {
		d.metrics.Event(WriterMessage, "skipped")
		return nil
	}
	if len(recipients) == 0 {
		d.log.Debug("message has no recipients", zap.String("roomId", roomID), zap.String("messageId", msgID))
		d.metrics.Event(WriterMessage, "no_recipient")
		return nil
	}

	targets, err := d.ResolveTokens(ctx, recipients)
	if err != nil {
		d.log.Error("resolve tokens failed", zap.String("roomId", roomID), zap.Error(err))
		d.metrics.Event(WriterMessage, "resolve_failed")
		return nil
	}
	err = d.send(ctx, "chat", targets, Message{
		Title: "New message",
		Body:  chat.Preview(msg.Text),
		Data: map[string]string{
			"type":      "chat_message",
			"roomId":    roomID,
			"messageId": msgID,
			"senderId":  msg.SenderID,
		},
	})
	if err != nil {
		d.log.Error("chat push failed", zap.String("roomId", roomID), zap.String("messageId", msgID), zap.Error(err))
		d.metrics.Event(WriterMessage, "send_failed")
		return nil
	}
	d.metrics.Event(WriterMessage, "sent")
	return nil
}
