package eventarc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
)

const updateEvent = `{
  "oldValue": {
    "name": "projects/kkiri/databases/(default)/documents/match_sessions/queue_alice",
    "fields": {
      "status": {"stringValue": "idle"},
      "userA": {"stringValue": "alice"}
    },
    "updateTime": "2026-07-01T10:00:00.000001Z"
  },
  "value": {
    "name": "projects/kkiri/databases/(default)/documents/match_sessions/queue_alice",
    "fields": {
      "status": {"stringValue": "searching"},
      "userA": {"stringValue": "alice"},
      "mode": {"stringValue": "auto"},
      "radiusKm": {"integerValue": "15"},
      "score": {"doubleValue": 0.5},
      "active": {"booleanValue": true},
      "gone": {"nullValue": null},
      "expiresAt": {"timestampValue": "2026-07-01T10:05:00Z"},
      "location": {"geoPointValue": {"latitude": 37.5665, "longitude": 126.978}},
      "interests": {"arrayValue": {"values": [{"stringValue": "coffee"}, {"stringValue": "jazz"}]}},
      "empty": {"arrayValue": {}},
      "serverMeta": {"mapValue": {"fields": {"lastWriter": {"stringValue": "pairQueue"}}}},
      "owner": {"referenceValue": "projects/kkiri/databases/(default)/documents/users/alice"}
    },
    "updateTime": "2026-07-01T10:00:01Z"
  }
}`

func TestDecodeChange(t *testing.T) {
	ch, err := DecodeChange("ev-1", "", []byte(updateEvent))
	require.NoError(t, err)

	assert.Equal(t, "ev-1", ch.EventID)
	assert.Equal(t, "match_sessions/queue_alice", ch.Path)
	assert.Equal(t, "queue_alice", ch.ID())
	require.True(t, ch.Before.Exists)
	assert.Equal(t, "idle", ch.Before.Data["status"])

	d := ch.After.Data
	assert.Equal(t, int64(15), d["radiusKm"])
	assert.Equal(t, 0.5, d["score"])
	assert.Equal(t, true, d["active"])
	assert.Nil(t, d["gone"])
	assert.Equal(t, time.Date(2026, 7, 1, 10, 5, 0, 0, time.UTC), d["expiresAt"])
	assert.Equal(t, []any{"coffee", "jazz"}, d["interests"])
	assert.Equal(t, []any{}, d["empty"])
	assert.Equal(t, "users/alice", d["owner"])
	assert.Equal(t, time.Date(2026, 7, 1, 10, 0, 1, 0, time.UTC), ch.After.UpdateTime)

	q, err := match.ParseQueueEntry(ch.After.ID, d)
	require.NoError(t, err)
	assert.True(t, q.Searching())
	assert.True(t, q.HasLocation)
	assert.Equal(t, "pairQueue", match.ParseServerMeta(d["serverMeta"]).LastWriter)
}

func TestDecodeCreateAndDelete(t *testing.T) {
	created, err := DecodeChange("", "", []byte(`{"value":{"name":"projects/p/databases/(default)/documents/reports/r1","fields":{}}}`))
	require.NoError(t, err)
	assert.True(t, created.Created())

	deleted, err := DecodeChange("", "documents/reports/r1", []byte(`{"oldValue":{"name":"projects/p/databases/(default)/documents/reports/r1","fields":{}}}`))
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())
	assert.Equal(t, "reports/r1", deleted.Path)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeChange("", "", []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	_, err = DecodeChange("", "documents/reports", []byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	_, err = DecodeChange("", "", []byte(`{"value":{"name":"documents/a/b","fields":{"n":{"integerValue":"x"}}}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string, err error) Handler {
	return func(ctx context.Context, ch docstore.Change) error {
		r.mu.Lock()
		r.calls = append(r.calls, name+":"+ch.Path)
		r.mu.Unlock()
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			return errors.New("no deadline")
		}
		return err
	}
}

func TestDispatchMatchesPatterns(t *testing.T) {
	rec := &recorder{}
	rt := NewRouter(nil, nil, time.Second)
	rt.Handle("match_sessions/{id}", "pairing", rec.handler("pairing", nil))
	rt.Handle("match_sessions/{id}", "accept", rec.handler("accept", nil))
	rt.Handle("chat_rooms/{room}/messages/{msg}", "message", rec.handler("message", nil))

	require.NoError(t, rt.Dispatch(context.Background(), docstore.Change{Path: "match_sessions/a_b"}))
	require.NoError(t, rt.Dispatch(context.Background(), docstore.Change{Path: "chat_rooms/a_b/messages/m1"}))
	require.NoError(t, rt.Dispatch(context.Background(), docstore.Change{Path: "chat_rooms/a_b"}))
	assert.Equal(t, []string{
		"pairing:match_sessions/a_b",
		"accept:match_sessions/a_b",
		"message:chat_rooms/a_b/messages/m1",
	}, rec.calls)
}

func TestDispatchRunsAllAndReportsFailure(t *testing.T) {
	rec := &recorder{}
	rt := NewRouter(nil, nil, time.Second)
	boom := errors.New("boom")
	rt.Handle("reports/{id}", "first", rec.handler("first", boom))
	rt.Handle("reports/{id}", "second", rec.handler("second", nil))
	rt.Handle("reports/{id}", "panics", func(context.Context, docstore.Change) error { panic("bad") })

	err := rt.Dispatch(context.Background(), docstore.Change{Path: "reports/r1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.calls, 2)
}

func TestServeHTTP(t *testing.T) {
	rec := &recorder{}
	rt := NewRouter(nil, nil, time.Second)
	rt.Handle("match_sessions/{id}", "pairing", rec.handler("pairing", nil))

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(updateEvent))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ce-Id", "ev-9")
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, rec.calls, 1)

	bad := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("{"))
	w = httptest.NewRecorder()
	rt.ServeHTTP(w, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	proto := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("\x0a"))
	proto.Header.Set("Content-Type", "application/protobuf")
	w = httptest.NewRecorder()
	rt.ServeHTTP(w, proto)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}
