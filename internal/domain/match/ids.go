package match

import (
	"errors"
	"strings"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

const (
	// SessionsCollection holds both queue documents and pair sessions.
	SessionsCollection = "match_sessions"

	QueuePrefix = "queue_"
	// QueueIDEnd bounds a document-id range scan over queue documents.
	QueueIDEnd = "queue_~"

	ModeAuto = "auto"
)

var (
	ErrEmptyUID    = errors.New("match: empty uid")
	ErrSelfPairing = errors.New("match: cannot pair a user with themselves")
	ErrNotQueueID  = errors.New("match: not a queue document id")
)

func QueueDocID(uid string) string {
	return QueuePrefix + strings.TrimSpace(uid)
}

func QueuePath(uid string) string {
	return docstore.Path(SessionsCollection, QueueDocID(uid))
}

func SessionPath(id string) string {
	return docstore.Path(SessionsCollection, id)
}

func IsQueueID(id string) bool {
	return strings.HasPrefix(id, QueuePrefix) && len(id) > len(QueuePrefix)
}

// OwnerFromQueueID returns the uid encoded in a queue document id.
func OwnerFromQueueID(id string) (string, error) {
	if !IsQueueID(id) {
		return "", ErrNotQueueID
	}
	return strings.TrimPrefix(id, QueuePrefix), nil
}

// PairSessionID joins the two uids in lexicographic order.
func PairSessionID(a, b string) (string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", ErrEmptyUID
	}
	if a == b {
		return "", ErrSelfPairing
	}
	if b < a {
		a, b = b, a
	}
	return a + "_" + b, nil
}

// SortedPair returns (min, max) of two uids.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
