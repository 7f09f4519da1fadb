package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

var ErrMalformedSession = errors.New("match: malformed session document")

// Session is a parsed pair session (id "<uidA>_<uidB>").
type Session struct {
	ID               string
	UserA            string
	UserB            string
	Mode             string
	Status           SessionStatus
	Responses        map[string]Response
	ChatRoomID       string
	ExpiresAt        time.Time
	InitiatedBy      string
	NotifiedAccepted bool
	Meta             ServerMeta
}

func ParseSession(id string, data map[string]any) (Session, error) {
	if IsQueueID(id) {
		return Session{}, fmt.Errorf("%w: %s is a queue document", ErrMalformedSession, id)
	}
	if data == nil {
		return Session{}, fmt.Errorf("%w: %s has no data", ErrMalformedSession, id)
	}
	s := Session{
		ID:          id,
		UserA:       docstore.AsString(data["userA"]),
		UserB:       docstore.AsString(data["userB"]),
		Mode:        docstore.AsString(data["mode"]),
		ChatRoomID:  docstore.AsString(data["chatRoomId"]),
		InitiatedBy: docstore.AsString(data["initiatedBy"]),
		Meta:        ParseServerMeta(data["serverMeta"]),
		Responses:   map[string]Response{},
	}
	if s.UserA == "" || s.UserB == "" || s.UserA == s.UserB {
		return Session{}, fmt.Errorf("%w: %s participants", ErrMalformedSession, id)
	}
	st, err := ParseSessionStatus(docstore.AsString(data["status"]))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", ErrMalformedSession, id, err)
	}
	s.Status = st
	if ts, ok := docstore.AsTime(data["expiresAt"]); ok {
		s.ExpiresAt = ts
	}
	if m, ok := docstore.AsMap(data["responses"]); ok {
		for uid, v := range m {
			switch r := Response(docstore.AsString(v)); r {
			case ResponseAccepted, ResponseRejected:
				s.Responses[uid] = r
			default:
				s.Responses[uid] = ResponseNone
			}
		}
	}
	if n, ok := docstore.AsMap(data["notified"]); ok {
		s.NotifiedAccepted, _ = docstore.AsBool(n["accepted"])
	}
	return s, nil
}

func (s Session) Participants() []string {
	return []string{s.UserA, s.UserB}
}

func (s Session) HasParticipant(uid string) bool {
	return uid != "" && (uid == s.UserA || uid == s.UserB)
}

func (s Session) BothAccepted() bool {
	return s.Responses[s.UserA] == ResponseAccepted && s.Responses[s.UserB] == ResponseAccepted
}

func (s Session) AnyRejected() bool {
	return s.Responses[s.UserA] == ResponseRejected || s.Responses[s.UserB] == ResponseRejected
}

// Expired reports whether a pending session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return s.Status == StatusPending && !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

// NewPair describes a freshly paired session.
type NewPair struct {
	ID          string
	UserA       string
	UserB       string
	InitiatedBy string
	ExpiresAt   time.Time
	Shared      []string
	DistanceKm  float64
}

// Data renders the initial pending session document.
func (p NewPair) Data() map[string]any {
	shared := make([]any, 0, len(p.Shared))
	for _, s := range p.Shared {
		shared = append(shared, s)
	}
	return map[string]any{
		"userA":       p.UserA,
		"userB":       p.UserB,
		"mode":        ModeAuto,
		"status":      string(StatusPending),
		"responses":   map[string]any{p.UserA: nil, p.UserB: nil},
		"expiresAt":   p.ExpiresAt,
		"initiatedBy": p.InitiatedBy,
		"notified":    map[string]any{"accepted": false},
		"interests":   shared,
		"distanceKm":  p.DistanceKm,
		"createdAt":   docstore.ServerTimestamp,
	}
}
