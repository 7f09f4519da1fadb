package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/docstore/memstore"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
	"github.com/ehgus2390/chineseapp/internal/domain/moderation"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func state(level moderation.Level, eligible bool, flags moderation.HardFlags, p entitlement.Protection, ban entitlement.Ban) State {
	return State{
		UID:         "u1",
		Moderation:  moderation.Record{Level: level, ProtectionEligible: eligible, HardFlags: flags},
		Entitlement: entitlement.Record{Protection: p, Ban: ban},
	}
}

func TestEvaluateDecisionTable(t *testing.T) {
	valid := entitlement.Protection{Active: true, ExpiresAt: now.Add(24 * time.Hour)}
	expired := entitlement.Protection{Active: true, ExpiresAt: now.Add(-time.Minute)}
	banned := entitlement.Ban{Active: true}
	noFlags := moderation.HardFlags{}

	cases := []struct {
		name string
		in   State
		want Decision
	}{
		{"level0 no entitlement", state(0, false, noFlags, entitlement.Protection{}, entitlement.Ban{}), Allow},
		{"level0 banned", state(0, false, noFlags, entitlement.Protection{}, banned), Allow},
		{"level1 valid", state(1, false, noFlags, valid, entitlement.Ban{}), Allow},
		{"level1 expired", state(1, false, noFlags, expired, entitlement.Ban{}), Delay},
		{"level1 banned", state(1, false, noFlags, valid, banned), Delay},
		{"level2 valid eligible", state(2, true, noFlags, valid, entitlement.Ban{}), AllowLimited},
		{"level2 not eligible", state(2, false, noFlags, valid, entitlement.Ban{}), Block},
		{"level2 severe", state(2, true, moderation.HardFlags{Severe: true}, valid, entitlement.Ban{}), Block},
		{"level2 sexual", state(2, true, moderation.HardFlags{Sexual: true}, valid, entitlement.Ban{}), Block},
		{"level2 violence", state(2, true, moderation.HardFlags{Violence: true}, valid, entitlement.Ban{}), Block},
		{"level2 spam only", state(2, true, moderation.HardFlags{Spam: true}, valid, entitlement.Ban{}), AllowLimited},
		{"level2 expired", state(2, true, noFlags, expired, entitlement.Ban{}), Block},
		{"level2 absent", state(2, true, noFlags, entitlement.Protection{}, entitlement.Ban{}), Block},
		{"level2 banned", state(2, true, noFlags, valid, banned), Block},
		{"level2 lapsed ban", state(2, true, noFlags, valid, entitlement.Ban{Active: true, Until: now.Add(-time.Second)}), AllowLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.in, now))
		})
	}
}

func TestEvaluateGateReadsStore(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "user_moderation/u1", map[string]any{"level": int64(2), "protectionEligible": true}))
	require.NoError(t, s.Set(ctx, "user_entitlements/u1", map[string]any{
		"protection": map[string]any{"active": true, "expiresAt": now.Add(time.Hour)},
	}))

	var got Decision
	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		d, _, err := EvaluateGate(tx, "u1", now)
		got = d
		return err
	}))
	assert.Equal(t, AllowLimited, got)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		d, _, err := EvaluateGate(tx, "nobody", now)
		got = d
		return err
	}))
	assert.Equal(t, Allow, got)
}

func TestThrottleCheck(t *testing.T) {
	th := Throttle{Window: 10 * time.Minute}
	rec := func(last time.Time) entitlement.Record {
		return entitlement.Record{Protection: entitlement.Protection{LastQueueAt: last}}
	}

	ok, stamp := th.Check(rec(time.Time{}), time.Time{}, now)
	assert.True(t, ok)
	assert.True(t, stamp)

	ok, _ = th.Check(rec(now.Add(-9*time.Minute)), time.Time{}, now)
	assert.False(t, ok)

	ok, stamp = th.Check(rec(now.Add(-10*time.Minute)), time.Time{}, now)
	assert.True(t, ok)
	assert.True(t, stamp)

	admitted := now.Add(-time.Minute)
	ok, stamp = th.Check(rec(admitted), admitted, now)
	assert.True(t, ok, "current admission passes")
	assert.False(t, stamp)

	ok, _ = th.Check(rec(admitted), admitted.Add(-time.Hour), now)
	assert.False(t, ok, "stale admission does not")
}

func TestThrottleApply(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	th := Throttle{}
	apply := func(at time.Time) bool {
		var ok bool
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			var err error
			ok, err = th.Apply(tx, "u1", at)
			return err
		}))
		return ok
	}

	assert.True(t, apply(now))
	assert.False(t, apply(now.Add(5*time.Minute)))

	d, err := s.Get(ctx, "user_entitlements/u1")
	require.NoError(t, err)
	last, _ := docstore.AsTime(docstore.Lookup(d.Data, "protection.lastQueueAt"))
	assert.Equal(t, now, last, "rejected attempt leaves the stamp alone")

	assert.True(t, apply(now.Add(11*time.Minute)))
}
