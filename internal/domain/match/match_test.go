package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairSessionIDIsOrderIndependent(t *testing.T) {
	ab, err := PairSessionID("bob", "alice")
	require.NoError(t, err)
	ba, err := PairSessionID("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", ab)
	assert.Equal(t, ab, ba)

	_, err = PairSessionID("alice", "alice")
	assert.ErrorIs(t, err, ErrSelfPairing)
	_, err = PairSessionID("", "bob")
	assert.ErrorIs(t, err, ErrEmptyUID)
}

func TestQueueIDs(t *testing.T) {
	assert.Equal(t, "queue_u1", QueueDocID("u1"))
	assert.Equal(t, "match_sessions/queue_u1", QueuePath("u1"))
	assert.True(t, IsQueueID("queue_u1"))
	assert.False(t, IsQueueID("queue_"))
	assert.False(t, IsQueueID("a_b"))

	owner, err := OwnerFromQueueID("queue_u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)
	_, err = OwnerFromQueueID("a_b")
	assert.ErrorIs(t, err, ErrNotQueueID)
}

func TestSessionTransitions(t *testing.T) {
	assert.NoError(t, ValidateSessionTransition("", StatusPending))
	assert.NoError(t, ValidateSessionTransition(StatusPending, StatusAccepted))
	assert.NoError(t, ValidateSessionTransition(StatusPending, StatusRejected))
	assert.NoError(t, ValidateSessionTransition(StatusPending, StatusExpired))
	assert.NoError(t, ValidateSessionTransition(StatusAccepted, StatusAccepted))

	for _, from := range []SessionStatus{StatusAccepted, StatusRejected, StatusExpired} {
		for _, to := range []SessionStatus{StatusPending, StatusAccepted, StatusRejected, StatusExpired} {
			if from == to {
				continue
			}
			assert.ErrorIs(t, ValidateSessionTransition(from, to), ErrInvalidTransition, "%s -> %s", from, to)
		}
	}
	assert.ErrorIs(t, ValidateSessionTransition("", StatusAccepted), ErrInvalidTransition)
}

func TestQueueTransitions(t *testing.T) {
	assert.NoError(t, ValidateQueueTransition(QueueSearching, QueueIdle))
	assert.NoError(t, ValidateQueueTransition(QueueSearching, QueueExpired))
	assert.NoError(t, ValidateQueueTransition(QueueIdle, QueueSearching))
	assert.ErrorIs(t, ValidateQueueTransition(QueueIdle, QueueExpired), ErrInvalidTransition)
}

func TestHaversineKm(t *testing.T) {
	a := Location{Latitude: 37.50, Longitude: 127.00}
	b := Location{Latitude: 37.51, Longitude: 127.00}
	d := HaversineKm(a, b)
	assert.InDelta(t, 1.112, d, 0.01)
	assert.InDelta(t, 0, HaversineKm(a, a), 1e-9)

	seoul := Location{Latitude: 37.5665, Longitude: 126.9780}
	busan := Location{Latitude: 35.1796, Longitude: 129.0756}
	assert.InDelta(t, 325, HaversineKm(seoul, busan), 5)
}

func TestParseLocation(t *testing.T) {
	loc, ok := ParseLocation(map[string]any{"latitude": 37.5, "longitude": int64(127)})
	require.True(t, ok)
	assert.Equal(t, Location{Latitude: 37.5, Longitude: 127}, loc)

	loc, ok = ParseLocation(map[string]any{"lat": 1.0, "lng": 2.0})
	require.True(t, ok)
	assert.Equal(t, Location{Latitude: 1, Longitude: 2}, loc)

	_, ok = ParseLocation(map[string]any{"latitude": 91.0, "longitude": 0.0})
	assert.False(t, ok)
	_, ok = ParseLocation("somewhere")
	assert.False(t, ok)
}

func TestCompare(t *testing.T) {
	a := SearchProfile{Interests: []string{"Coffee"}, Location: Location{37.50, 127.00}, RadiusKm: 5}
	b := SearchProfile{Interests: []string{"coffee", "hiking"}, Location: Location{37.51, 127.00}, RadiusKm: 5}

	c := Compare(a, b)
	assert.True(t, c.OK())
	assert.Equal(t, []string{"coffee"}, c.Shared)

	b.Interests = []string{"hiking"}
	assert.False(t, Compare(a, b).OK())

	b.Interests = []string{"coffee"}
	b.RadiusKm = 1
	assert.False(t, Compare(a, b).OK(), "distance must fit the smaller radius")
}

func TestParseSession(t *testing.T) {
	exp := time.Date(2026, 5, 1, 0, 0, 10, 0, time.UTC)
	s, err := ParseSession("a_b", map[string]any{
		"userA":     "a",
		"userB":     "b",
		"mode":      "auto",
		"status":    "pending",
		"responses": map[string]any{"a": "accepted", "b": nil},
		"expiresAt": exp,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s.Status)
	assert.False(t, s.BothAccepted())
	assert.False(t, s.AnyRejected())
	assert.True(t, s.Expired(exp))
	assert.False(t, s.Expired(exp.Add(-time.Second)))

	s.Responses["b"] = ResponseAccepted
	assert.True(t, s.BothAccepted())

	_, err = ParseSession("queue_a", map[string]any{"userA": "a"})
	assert.ErrorIs(t, err, ErrMalformedSession)
	_, err = ParseSession("a_b", map[string]any{"userA": "a", "userB": "b", "status": "weird"})
	assert.ErrorIs(t, err, ErrMalformedSession)
}

func TestParseQueueEntry(t *testing.T) {
	q, err := ParseQueueEntry("queue_a", map[string]any{
		"userA":     "a",
		"mode":      "auto",
		"status":    "searching",
		"interests": []any{"coffee"},
		"location":  map[string]any{"latitude": 37.5, "longitude": 127.0},
		"radiusKm":  int64(5),
	})
	require.NoError(t, err)
	assert.True(t, q.Searching())
	assert.True(t, q.CacheComplete())
	assert.Equal(t, 5.0, q.Cached.RadiusKm)

	q, err = ParseQueueEntry("queue_a", map[string]any{"mode": "auto", "status": "idle"})
	require.NoError(t, err)
	assert.Equal(t, "a", q.Owner)
	assert.False(t, q.Searching())
	assert.False(t, q.CacheComplete())

	_, err = ParseQueueEntry("queue_a", map[string]any{"userA": "b", "status": "idle"})
	assert.ErrorIs(t, err, ErrMalformedQueue)
}

func TestIsOwnWrite(t *testing.T) {
	before := map[string]any{"status": "pending"}
	after := map[string]any{"serverMeta": map[string]any{
		"source":     "server",
		"lastWriter": "onMatchSessionAccepted",
		"updatedAt":  time.Unix(100, 0),
	}}
	assert.True(t, IsOwnWrite(before, after, "onMatchSessionAccepted"))
	assert.False(t, IsOwnWrite(before, after, "notifyMatchAccepted"))

	// A later client write leaves serverMeta untouched.
	assert.False(t, IsOwnWrite(after, after, "onMatchSessionAccepted"))
}

func TestStamp(t *testing.T) {
	data := Stamp(map[string]any{"status": "idle"}, "pairQueue", "reset")
	meta := data["serverMeta"].(map[string]any)
	assert.Equal(t, "server", meta["source"])
	assert.Equal(t, "pairQueue", meta["lastWriter"])
	assert.Equal(t, "reset", meta["lastOp"])
	assert.Contains(t, data, "updatedAt")
}
