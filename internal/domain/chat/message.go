package chat

import (
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

// Message is chat_rooms/{roomId}/messages/{id}.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Text      string
	Notified  bool
	CreatedAt time.Time
}

// ParseMessage reads senderId (or the legacy "sender") and text.
func ParseMessage(roomID, id string, data map[string]any) Message {
	m := Message{ID: id, RoomID: roomID}
	if data == nil {
		return m
	}
	m.SenderID = docstore.AsString(data["senderId"])
	if m.SenderID == "" {
		m.SenderID = docstore.AsString(data["sender"])
	}
	m.Text = docstore.AsString(data["text"])
	m.Notified, _ = docstore.AsBool(data["notified"])
	m.CreatedAt, _ = docstore.AsTime(data["createdAt"])
	return m
}
