package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelForReports(t *testing.T) {
	cases := map[int64]Level{0: LevelNone, 2: LevelNone, 3: LevelLimited, 5: LevelLimited, 6: LevelBlocked, 40: LevelBlocked}
	for total, want := range cases {
		assert.Equal(t, want, LevelForReports(total), "total=%d", total)
	}
}

func TestReasonKey(t *testing.T) {
	assert.Equal(t, "Unknown", ReasonKey("   "))
	assert.Equal(t, "spam_ads", ReasonKey(" spam.ads "))
	assert.Equal(t, "a_b_c_d_e_f", ReasonKey("a/b#c[d]e$f"))
}

func TestParse(t *testing.T) {
	r := Parse("u1", map[string]any{
		"totalReports":       int64(7),
		"level":              int64(9),
		"protectionEligible": true,
		"reasonCounts":       map[string]any{"spam": int64(4), "rude": 3.0},
		"hardFlags":          map[string]any{"sexual": true},
	})
	assert.Equal(t, int64(7), r.TotalReports)
	assert.Equal(t, LevelBlocked, r.Level)
	assert.True(t, r.ProtectionEligible)
	assert.Equal(t, int64(3), r.ReasonCounts["rude"])
	assert.True(t, r.HardFlags.Disqualifying())

	empty := Parse("u2", nil)
	assert.Equal(t, LevelNone, empty.Level)
	assert.False(t, empty.HardFlags.Disqualifying())

	spamOnly := HardFlags{Spam: true}
	assert.False(t, spamOnly.Disqualifying())
}

func TestParseReport(t *testing.T) {
	r := ParseReport("r1", map[string]any{"reporterUid": "a", "reportedUid": "b", "reason": 5})
	assert.Equal(t, "b", r.TargetUID)
	assert.Equal(t, "Unknown", r.Reason)
	assert.False(t, r.Processed)
}
