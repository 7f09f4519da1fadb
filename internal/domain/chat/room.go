package chat

import (
	"errors"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

const (
	RoomsCollection    = "chat_rooms"
	MessagesCollection = "messages"

	// PreviewLength caps lastMessage and push bodies (runes).
	PreviewLength = 120
)

var ErrMalformedRoom = errors.New("chat: malformed room document")

func RoomPath(id string) string {
	return docstore.Path(RoomsCollection, id)
}

func MessagesPath(roomID string) string {
	return docstore.Path(RoomsCollection, roomID, MessagesCollection)
}

// Room is chat_rooms/{id}; the id equals the originating session id.
type Room struct {
	ID            string
	Participants  []string
	SessionID     string
	Mode          string
	LastMessage   string
	LastMessageAt time.Time
	IsActive      bool
	EndedBy       []string
}

func ParseRoom(id string, data map[string]any) (Room, error) {
	if data == nil {
		return Room{}, ErrMalformedRoom
	}
	r := Room{
		ID:          id,
		SessionID:   docstore.AsString(data["sessionId"]),
		Mode:        docstore.AsString(data["mode"]),
		LastMessage: docstore.AsString(data["lastMessage"]),
	}
	r.Participants, _ = docstore.AsStrings(data["participants"])
	if len(r.Participants) < 2 {
		return Room{}, ErrMalformedRoom
	}
	r.LastMessageAt, _ = docstore.AsTime(data["lastMessageAt"])
	r.IsActive, _ = docstore.AsBool(data["isActive"])
	r.EndedBy = parseEndedBy(data["endedBy"])
	return r, nil
}

// parseEndedBy accepts a uid list, a {uid: true} map or a single uid.
func parseEndedBy(v any) []string {
	if list, ok := docstore.AsStrings(v); ok {
		return list
	}
	if m, ok := docstore.AsMap(v); ok {
		var out []string
		for _, k := range docstore.SortedKeys(m) {
			if b, ok := docstore.AsBool(m[k]); ok && !b {
				continue
			}
			if m[k] == nil {
				continue
			}
			out = append(out, k)
		}
		return out
	}
	if s := docstore.AsString(v); s != "" {
		return []string{s}
	}
	return nil
}

func (r Room) HasParticipant(uid string) bool {
	for _, p := range r.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// Enders returns the distinct participants present in endedBy.
func (r Room) Enders() []string {
	seen := map[string]bool{}
	var out []string
	for _, uid := range r.EndedBy {
		if r.HasParticipant(uid) && !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	return out
}

// EndedByAll reports mutual termination: every participant ended the room.
func (r Room) EndedByAll() bool {
	return len(r.Enders()) == len(r.Participants)
}

// Recipients returns the participants other than sender.
func (r Room) Recipients(sender string) []string {
	out := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p != sender {
			out = append(out, p)
		}
	}
	return out
}

// NewRoomData renders the room created on session acceptance.
func NewRoomData(sessionID, mode string, participants []string) map[string]any {
	ps := make([]any, 0, len(participants))
	for _, p := range participants {
		ps = append(ps, p)
	}
	return map[string]any{
		"participants":  ps,
		"sessionId":     sessionID,
		"mode":          mode,
		"lastMessage":   "",
		"lastMessageAt": nil,
		"isActive":      true,
		"endedBy":       []any{},
		"createdAt":     docstore.ServerTimestamp,
	}
}

// Preview truncates text to PreviewLength runes.
func Preview(text string) string {
	rs := []rune(text)
	if len(rs) <= PreviewLength {
		return text
	}
	return string(rs[:PreviewLength-1]) + "…"
}
