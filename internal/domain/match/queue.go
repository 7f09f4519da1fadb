package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

var ErrMalformedQueue = errors.New("match: malformed queue document")

// TransientQueueFields are left over from pairing handshakes and are
// removed from settled queue documents by the cleanup sweep.
var TransientQueueFields = []string{
	"userB",
	"participants",
	"ready",
	"cancelledBy",
	"connectedAt",
	"limitedAdmittedAt",
}

// QueueEntry is a parsed queue document (id "queue_<uid>").
type QueueEntry struct {
	ID     string
	Owner  string
	Mode   string
	Status QueueStatus

	// Cached search profile; the Has* flags tell which parts were present
	// and valid on the document.
	Cached       SearchProfile
	HasInterests bool
	HasLocation  bool
	HasRadius    bool

	ExpiresAt         time.Time
	LimitedAdmittedAt time.Time
	UpdatedAt         time.Time
}

func ParseQueueEntry(id string, data map[string]any) (QueueEntry, error) {
	owner, err := OwnerFromQueueID(id)
	if err != nil {
		return QueueEntry{}, err
	}
	if data == nil {
		return QueueEntry{}, fmt.Errorf("%w: %s has no data", ErrMalformedQueue, id)
	}
	if ua := docstore.AsString(data["userA"]); ua != "" {
		if ua != owner {
			return QueueEntry{}, fmt.Errorf("%w: %s owned by %s", ErrMalformedQueue, id, ua)
		}
	}
	st, err := ParseQueueStatus(docstore.AsString(data["status"]))
	if err != nil {
		return QueueEntry{}, fmt.Errorf("%w: %s: %v", ErrMalformedQueue, id, err)
	}

	q := QueueEntry{
		ID:     id,
		Owner:  owner,
		Mode:   docstore.AsString(data["mode"]),
		Status: st,
	}
	if list, ok := docstore.AsStrings(data["interests"]); ok {
		if len(NormalizeInterests(list)) > 0 {
			q.Cached.Interests = list
			q.HasInterests = true
		}
	}
	if loc, ok := ParseLocation(data["location"]); ok {
		q.Cached.Location = loc
		q.HasLocation = true
	}
	if r, ok := docstore.AsFloat(data["radiusKm"]); ok && r > 0 {
		q.Cached.RadiusKm = r
		q.HasRadius = true
	}
	q.ExpiresAt, _ = docstore.AsTime(data["expiresAt"])
	q.LimitedAdmittedAt, _ = docstore.AsTime(data["limitedAdmittedAt"])
	q.UpdatedAt, _ = docstore.AsTime(data["updatedAt"])
	return q, nil
}

// Searching reports whether the entry is in the auto-match pool.
func (q QueueEntry) Searching() bool {
	return q.Status == QueueSearching && q.Mode == ModeAuto
}

// CacheComplete reports whether pairing can skip the profile read.
func (q QueueEntry) CacheComplete() bool {
	return q.HasInterests && q.HasLocation && q.HasRadius
}

// SearchingData renders a queue document entering the pool.
func SearchingData(uid string, p SearchProfile, expiresAt time.Time) map[string]any {
	data := CacheData(p)
	data["userA"] = uid
	data["mode"] = ModeAuto
	data["status"] = string(QueueSearching)
	data["expiresAt"] = expiresAt
	return data
}

// CacheData renders the cached search profile fields of a queue document.
func CacheData(p SearchProfile) map[string]any {
	interests := make([]any, 0, len(p.Interests))
	for _, s := range p.Interests {
		interests = append(interests, s)
	}
	return map[string]any{
		"interests": interests,
		"location":  p.Location.Map(),
		"radiusKm":  p.RadiusKm,
	}
}
