package oplock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/docstore/memstore"
)

func TestAcquireOnce(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	acquire := func() bool {
		var got bool
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			ok, err := Acquire(tx, "match_sessions/a_b", "onMatchSessionAccepted:a_b:accepted", "test")
			got = ok
			return err
		}))
		return got
	}

	assert.True(t, acquire())
	assert.False(t, acquire())
	assert.False(t, acquire())

	d, err := s.Get(ctx, "match_sessions/a_b/_ops/onMatchSessionAccepted:a_b:accepted")
	require.NoError(t, err)
	assert.True(t, d.Exists)
	assert.Equal(t, "test", d.Data["writer"])
}

func TestCheckThenClaim(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		l, err := Check(tx, "users/u1", "k")
		if err != nil {
			return err
		}
		assert.False(t, l.Held())
		if err := tx.Merge("users/u1", map[string]any{"x": 1}); err != nil {
			return err
		}
		return l.Claim(tx, "test")
	})
	require.NoError(t, err)

	err = s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		l, err := Check(tx, "users/u1", "k")
		if err != nil {
			return err
		}
		assert.True(t, l.Held())
		return l.Claim(tx, "test")
	})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestDocID(t *testing.T) {
	assert.Equal(t, "expire:2026-01-01T00:00", DocID("expire:2026-01-01T00:00"))
	assert.True(t, strings.HasPrefix(DocID("a/b"), "h_"))
	assert.True(t, strings.HasPrefix(DocID(strings.Repeat("x", 500)), "h_"))
	assert.Equal(t, DocID("a/b"), DocID("a/b"))
}

func TestMinuteKey(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	ts := time.Date(2026, 4, 5, 9, 7, 59, 0, loc)
	assert.Equal(t, "2026-04-05T00:07", MinuteKey(ts))
	assert.Equal(t, MinuteKey(ts), MinuteKey(ts.Add(-30*time.Second)))
}

func TestStableHashIgnoresKeyOrderAndNumberKinds(t *testing.T) {
	a := map[string]any{"status": "pending", "responses": map[string]any{"a": nil, "b": "accepted"}, "n": int64(3)}
	b := map[string]any{"n": 3.0, "responses": map[string]any{"b": "accepted", "a": nil}, "status": "pending"}
	assert.Equal(t, StableHash(a), StableHash(b))

	b["status"] = "accepted"
	assert.NotEqual(t, StableHash(a), StableHash(b))
}

func TestChanged(t *testing.T) {
	before := map[string]any{"status": "searching", "mode": "auto", "interests": []any{"x"}}
	after := map[string]any{"status": "searching", "mode": "auto", "interests": []any{"y"}}
	assert.False(t, Changed(before, after, "status", "mode"))
	assert.True(t, Changed(before, after, "interests"))
	assert.True(t, Changed(nil, after, "status"))
	assert.False(t, Changed(nil, map[string]any{"status": nil}, "status"))
}
