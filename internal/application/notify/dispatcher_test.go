package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/docstore/docstoretest"
	"github.com/ehgus2390/chineseapp/internal/docstore/memstore"
	"github.com/ehgus2390/chineseapp/internal/domain/chat"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
)

type fakePush struct {
	mu      sync.Mutex
	sent    []Message
	invalid map[string]bool
	err     error
}

func (f *fakePush) SendMulticast(_ context.Context, msg Message) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	out := make([]Result, 0, len(msg.Tokens))
	for _, tok := range msg.Tokens {
		if f.invalid[tok] {
			out = append(out, Result{Token: tok, Invalid: true, Err: errors.New("unregistered")})
			continue
		}
		out = append(out, Result{Token: tok, OK: true})
	}
	return out, nil
}

func (f *fakePush) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Tokens...)
	}
	return out
}

const sid = "alice_bob"

func device(t *testing.T, s docstore.Store, uid, id, token string, enabled bool) {
	t.Helper()
	docstoretest.Seed(t, s, docstore.Path(profile.DevicesPath(uid), id), map[string]any{"token": token, "enabled": enabled})
}

func seedUsers(t *testing.T, s docstore.Store) {
	t.Helper()
	docstoretest.Seed(t, s, profile.Path("alice"), map[string]any{"notificationsEnabled": true})
	docstoretest.Seed(t, s, profile.Path("bob"), map[string]any{})
	device(t, s, "alice", "phone", "tok-alice-phone", true)
	device(t, s, "alice", "tablet", "tok-alice-tablet", true)
	device(t, s, "alice", "old", "tok-alice-old", false)
	device(t, s, "bob", "phone", "tok-bob-phone", true)
}

func acceptedSession(t *testing.T, s docstore.Store) docstore.Change {
	t.Helper()
	docstoretest.Seed(t, s, match.SessionPath(sid), match.NewPair{
		ID: sid, UserA: "alice", UserB: "bob", InitiatedBy: "alice", ExpiresAt: time.Now().Add(time.Minute),
	}.Data())
	return docstoretest.Write(t, s, match.SessionPath(sid), map[string]any{
		"status":     "accepted",
		"chatRoomId": sid,
		"responses":  map[string]any{"alice": "accepted", "bob": "accepted"},
	})
}

func TestAcceptedSessionPushesOncePerDevice(t *testing.T) {
	s := memstore.New()
	push := &fakePush{}
	d := NewDispatcher(s, push, nil, nil)
	seedUsers(t, s)
	ch := acceptedSession(t, s)

	require.NoError(t, d.HandleSessionAccepted(context.Background(), ch))
	require.Len(t, push.sent, 1)
	assert.ElementsMatch(t, []string{"tok-alice-phone", "tok-alice-tablet", "tok-bob-phone"}, push.tokens())
	assert.Equal(t, "match_accepted", push.sent[0].Data["type"])
	assert.Equal(t, sid, push.sent[0].Data["chatRoomId"])

	sess, err := match.ParseSession(sid, docstoretest.Read(t, s, match.SessionPath(sid)).Data)
	require.NoError(t, err)
	assert.True(t, sess.NotifiedAccepted)

	// Redelivery and the dispatcher's own write are both no-ops.
	require.NoError(t, d.HandleSessionAccepted(context.Background(), ch))
	own := docstoretest.Write(t, s, match.SessionPath(sid), match.Stamp(map[string]any{"x": 1}, WriterAccepted, "test"))
	require.NoError(t, d.HandleSessionAccepted(context.Background(), own))
	assert.Len(t, push.sent, 1)
}

func TestNotificationsDisabledSkipsUser(t *testing.T) {
	s := memstore.New()
	push := &fakePush{}
	d := NewDispatcher(s, push, nil, nil)
	seedUsers(t, s)
	docstoretest.Write(t, s, profile.Path("alice"), map[string]any{"notificationsEnabled": false})

	targets, err := d.ResolveTokens(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "tok-bob-phone", targets[0].Token)
}

func TestInvalidTokenDisablesDevice(t *testing.T) {
	s := memstore.New()
	push := &fakePush{invalid: map[string]bool{"tok-alice-tablet": true}}
	d := NewDispatcher(s, push, nil, nil)
	seedUsers(t, s)

	require.NoError(t, d.HandleSessionAccepted(context.Background(), acceptedSession(t, s)))

	tablet := docstoretest.Read(t, s, docstore.Path(profile.DevicesPath("alice"), "tablet")).Data
	assert.Equal(t, false, tablet["enabled"])
	assert.Equal(t, WriterPrune, match.ParseServerMeta(tablet["serverMeta"]).LastWriter)
	phone := docstoretest.Read(t, s, docstore.Path(profile.DevicesPath("alice"), "phone")).Data
	assert.Equal(t, true, phone["enabled"])
}

func TestSendFailureStillMarksNotified(t *testing.T) {
	s := memstore.New()
	push := &fakePush{err: errors.New("fcm down")}
	d := NewDispatcher(s, push, nil, nil)
	seedUsers(t, s)

	require.NoError(t, d.HandleSessionAccepted(context.Background(), acceptedSession(t, s)))
	sess, err := match.ParseSession(sid, docstoretest.Read(t, s, match.SessionPath(sid)).Data)
	require.NoError(t, err)
	assert.True(t, sess.NotifiedAccepted)
}

func TestChatMessageNotifiesOtherParticipant(t *testing.T) {
	s := memstore.New()
	push := &fakePush{}
	d := NewDispatcher(s, push, nil, nil)
	seedUsers(t, s)
	docstoretest.Seed(t, s, chat.RoomPath(sid), chat.NewRoomData(sid, match.ModeAuto, []string{"alice", "bob"}))

	sentAt := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	msgPath := docstore.Path(chat.MessagesPath(sid), "m1")
	ch := docstoretest.Replace(t, s, msgPath, map[string]any{
		"senderId":  "alice",
		"text":      "coffee tomorrow?",
		"createdAt": sentAt,
	})

	require.NoError(t, d.HandleChatMessage(context.Background(), ch))
	assert.Equal(t, []string{"tok-bob-phone"}, push.tokens())
	assert.Equal(t, "coffee tomorrow?", push.sent[0].Body)

	assert.Equal(t, true, docstoretest.Read(t, s, msgPath).Data["notified"])
	room, err := chat.ParseRoom(sid, docstoretest.Read(t, s, chat.RoomPath(sid)).Data)
	require.NoError(t, err)
	assert.Equal(t, "coffee tomorrow?", room.LastMessage)
	assert.Equal(t, sentAt, room.LastMessageAt)

	require.NoError(t, d.HandleChatMessage(context.Background(), ch))
	assert.Len(t, push.sent, 1)
}

func TestChatMessageFromOutsiderIsNotPushed(t *testing.T) {
	s := memstore.New()
	push := &fakePush{}
	d := NewDispatcher(s, push, nil, nil)
	seedUsers(t, s)
	docstoretest.Seed(t, s, chat.RoomPath(sid), chat.NewRoomData(sid, match.ModeAuto, []string{"alice", "bob"}))

	msgPath := docstore.Path(chat.MessagesPath(sid), "m2")
	ch := docstoretest.Replace(t, s, msgPath, map[string]any{"senderId": "mallory", "text": "hi"})
	require.NoError(t, d.HandleChatMessage(context.Background(), ch))
	assert.Empty(t, push.sent)
	assert.Equal(t, true, docstoretest.Read(t, s, msgPath).Data["notified"])
}

func TestMulticastIsChunked(t *testing.T) {
	s := memstore.New()
	push := &fakePush{}
	d := NewDispatcher(s, push, nil, nil)

	targets := make([]Target, 0, MaxMulticastTokens+20)
	for i := 0; i < MaxMulticastTokens+20; i++ {
		tok := "tok-" + time.Duration(i).String()
		targets = append(targets, Target{UID: "u", Token: tok, DevicePath: "users/u/devices/" + tok})
	}
	require.NoError(t, d.send(context.Background(), "test", targets, Message{Title: "t"}))
	require.Len(t, push.sent, 2)
	assert.Len(t, push.sent[0].Tokens, MaxMulticastTokens)
	assert.Len(t, push.sent[1].Tokens, 20)
}

func TestMessagePath(t *testing.T) {
	room, msg, ok := messagePath("chat_rooms/r1/messages/m1")
	assert.True(t, ok)
	assert.Equal(t, "r1", room)
	assert.Equal(t, "m1", msg)

	_, _, ok = messagePath("chat_rooms/r1")
	assert.False(t, ok)
	_, _, ok = messagePath("match_sessions/x/messages/m1")
	assert.False(t, ok)
}
