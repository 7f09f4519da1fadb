// internal/domain/notification/entity.go
package notification

import "github.com/ehgus2390/chineseapp/internal/docstore"

const Collection = "notifications"

type Kind string

const (
	KindMatch Kind = "match"
	KindChat  Kind = "chat"
)

// Record is users/{uid}/notifications/{id}. Ids are derived from the
// originating session so redelivered writes land on the same document.
type Record struct {
	ID        string
	UID       string
	Kind      Kind
	SessionID string
	PeerUID   string
}

func NewMatch(uid, peer, sessionID string) Record {
	return Record{ID: "match_" + sessionID, UID: uid, Kind: KindMatch, SessionID: sessionID, PeerUID: peer}
}

func NewChat(uid, peer, sessionID string) Record {
	return Record{ID: "chat_" + sessionID, UID: uid, Kind: KindChat, SessionID: sessionID, PeerUID: peer}
}

func (r Record) Path() string {
	return docstore.Path("users", r.UID, Collection, r.ID)
}

func (r Record) Data() map[string]any {
	data := map[string]any{
		"type":      string(r.Kind),
		"sessionId": r.SessionID,
		"peerUid":   r.PeerUID,
		"read":      false,
		"createdAt": docstore.ServerTimestamp,
	}
	if r.Kind == KindChat {
		data["chatRoomId"] = r.SessionID
	}
	return data
}
