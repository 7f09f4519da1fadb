package moderation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/docstore/docstoretest"
	"github.com/ehgus2390/chineseapp/internal/docstore/memstore"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	moderationdom "github.com/ehgus2390/chineseapp/internal/domain/moderation"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Mail
}

func (f *fakeMailer) Send(_ context.Context, m Mail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

var admin = Actor{UID: "ops-1", Admin: true}

func report(t *testing.T, s docstore.Store, id, reporter, target, reason string) docstore.Change {
	t.Helper()
	return docstoretest.Replace(t, s, docstore.Path(moderationdom.ReportsCollection, id), map[string]any{
		"reporterUid": reporter,
		"reportedUid": target,
		"reason":      reason,
	})
}

func record(t *testing.T, s docstore.Store, uid string) moderationdom.Record {
	t.Helper()
	return moderationdom.Parse(uid, docstoretest.Read(t, s, moderationdom.Path(uid)).Data)
}

func TestReportsEscalateAndAlertOnce(t *testing.T) {
	s := memstore.New()
	mail := &fakeMailer{}
	u := NewUsecaseWithMailer(s, nil, nil, mail, "safety@kkiri.app")
	docstoretest.Seed(t, s, profile.Path("bob"), map[string]any{"displayName": "bob"})

	for i := 1; i <= 7; i++ {
		reason := "spam"
		if i%2 == 0 {
			reason = "rude.words"
		}
		ch := report(t, s, fmt.Sprintf("r%d", i), fmt.Sprintf("reporter%d", i), "bob", reason)
		require.NoError(t, u.HandleReportCreated(context.Background(), ch))

		rec := record(t, s, "bob")
		assert.Equal(t, int64(i), rec.TotalReports)
		assert.Equal(t, moderationdom.LevelForReports(int64(i)), rec.Level, "after %d reports", i)
	}

	rec := record(t, s, "bob")
	assert.Equal(t, int64(4), rec.ReasonCounts["spam"])
	assert.Equal(t, int64(3), rec.ReasonCounts["rude_words"])

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "safety@kkiri.app", mail.sent[0].To)
	assert.Contains(t, mail.sent[0].Subject, "bob")

	r1 := docstoretest.Read(t, s, "reports/r1").Data
	assert.Equal(t, true, r1["moderationProcessed"])
	assert.NotContains(t, r1, "moderationSkippedReason")
}

func TestReportRedeliveryCountsOnce(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	docstoretest.Seed(t, s, profile.Path("bob"), map[string]any{})

	ch := report(t, s, "r1", "alice", "bob", "spam")
	require.NoError(t, u.HandleReportCreated(context.Background(), ch))
	require.NoError(t, u.HandleReportCreated(context.Background(), ch))
	assert.Equal(t, int64(1), record(t, s, "bob").TotalReports)
}

func TestReportLevelNeverLowered(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	docstoretest.Seed(t, s, profile.Path("bob"), map[string]any{})
	docstoretest.Seed(t, s, moderationdom.Path("bob"), map[string]any{"level": int64(2), "totalReports": int64(0)})

	require.NoError(t, u.HandleReportCreated(context.Background(), report(t, s, "r1", "alice", "bob", "spam")))
	rec := record(t, s, "bob")
	assert.Equal(t, moderationdom.LevelBlocked, rec.Level)
	assert.Equal(t, int64(1), rec.TotalReports)
}

func TestReportSkipReasons(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	docstoretest.Seed(t, s, profile.Path("alice"), map[string]any{})

	cases := []struct {
		id, reporter, target, want string
	}{
		{"self", "alice", "alice", moderationdom.SkipSelfReport},
		{"ghost", "alice", "nobody", moderationdom.SkipTargetMissing},
		{"blank", "alice", "", moderationdom.SkipTargetMissing},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			require.NoError(t, u.HandleReportCreated(context.Background(), report(t, s, tc.id, tc.reporter, tc.target, "x")))
			data := docstoretest.Read(t, s, docstore.Path(moderationdom.ReportsCollection, tc.id)).Data
			assert.Equal(t, true, data["moderationProcessed"])
			assert.Equal(t, tc.want, data["moderationSkippedReason"])
		})
	}
	assert.False(t, docstoretest.Read(t, s, moderationdom.Path("alice")).Exists)
	assert.False(t, docstoretest.Read(t, s, moderationdom.Path("nobody")).Exists)
}

func TestCommunityPostHiddenAtThreshold(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	post := docstore.Path(CommunityRoot, "posts", "p1")
	docstoretest.Seed(t, s, post, map[string]any{"authorUid": "bob", "text": "hello"})

	for i, reporter := range []string{"r1", "r2", "r3"} {
		ch := docstoretest.Replace(t, s, docstore.Path(post, "reports", reporter), map[string]any{"reason": "spam"})
		require.NoError(t, u.HandleCommunityReport(context.Background(), ch))

		data := docstoretest.Read(t, s, post).Data
		assert.Equal(t, int64(i+1), data["reportCount"])
		assert.Equal(t, i+1 >= HideThreshold, data["isHidden"])
	}
	assert.Equal(t, int64(3), record(t, s, "bob").TotalReports)
	assert.Equal(t, moderationdom.LevelLimited, record(t, s, "bob").Level)
}

func TestCommunitySelfReportCountsButSkipsAuthor(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	post := docstore.Path(CommunityRoot, "posts", "p1")
	docstoretest.Seed(t, s, post, map[string]any{"authorUid": "bob"})

	ch := docstoretest.Replace(t, s, docstore.Path(post, "reports", "bob"), map[string]any{"reason": "oops"})
	require.NoError(t, u.HandleCommunityReport(context.Background(), ch))

	assert.Equal(t, int64(1), docstoretest.Read(t, s, post).Data["reportCount"])
	rep := docstoretest.Read(t, s, docstore.Path(post, "reports", "bob")).Data
	assert.Equal(t, moderationdom.SkipSelfReport, rep["moderationSkippedReason"])
	assert.False(t, docstoretest.Read(t, s, moderationdom.Path("bob")).Exists)
}

func TestCommunityCommentReports(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	comment := docstore.Path(CommunityRoot, "posts", "p1", "comments", "c1")
	docstoretest.Seed(t, s, comment, map[string]any{"authorUid": "carol"})

	ch := docstoretest.Replace(t, s, docstore.Path(comment, "reports", "alice"), map[string]any{"reason": "rude"})
	require.NoError(t, u.HandleCommunityReport(context.Background(), ch))
	assert.Equal(t, int64(1), docstoretest.Read(t, s, comment).Data["reportCount"])
	assert.Equal(t, int64(1), record(t, s, "carol").ReasonCounts["rude"])

	missing := docstoretest.Replace(t, s,
		docstore.Path(CommunityRoot, "posts", "p1", "comments", "gone", "reports", "alice"), map[string]any{})
	require.NoError(t, u.HandleCommunityReport(context.Background(), missing))
	assert.Equal(t, moderationdom.SkipCommentMissing, docstoretest.Read(t, s, missing.Path).Data["moderationSkippedReason"])
}

func TestParseCommunityReport(t *testing.T) {
	cr, ok := parseCommunityReport(CommunityRoot + "/posts/p1/reports/u1")
	require.True(t, ok)
	assert.Equal(t, CommunityRoot+"/posts/p1", cr.contentPath)
	assert.Equal(t, "u1", cr.reporterUID)
	assert.False(t, cr.comment)

	cr, ok = parseCommunityReport(CommunityRoot + "/posts/p1/comments/c1/reports/u2")
	require.True(t, ok)
	assert.True(t, cr.comment)
	assert.Equal(t, "u2", cr.reporterUID)

	for _, p := range []string{
		"reports/r1",
		CommunityRoot + "/posts/p1",
		CommunityRoot + "/posts/p1/likes/u1",
		CommunityRoot + "/posts//reports/u1",
	} {
		_, ok := parseCommunityReport(p)
		assert.False(t, ok, p)
	}
}

func TestAdminRequiresAdminClaim(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	lv := int64(1)

	_, err := u.AdminSetModeration(context.Background(), Actor{UID: "alice"}, SetModerationInput{UID: "bob", Level: &lv})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = u.AdminSetBan(context.Background(), Actor{Admin: true}, SetBanInput{UID: "bob", Active: true})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 0, docstoretest.Count(t, s, AuditCollection))
}

func TestAdminSetModerationWritesAudit(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	docstoretest.Seed(t, s, moderationdom.Path("bob"), map[string]any{"level": int64(2), "totalReports": int64(6)})

	bad := int64(5)
	_, err := u.AdminSetModeration(context.Background(), admin, SetModerationInput{UID: "bob", Level: &bad})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = u.AdminSetModeration(context.Background(), admin, SetModerationInput{UID: "bob"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	lv, eligible := int64(0), true
	res, err := u.AdminSetModeration(context.Background(), admin, SetModerationInput{
		UID: "bob", Level: &lv, ProtectionEligible: &eligible, HardFlags: &moderationdom.HardFlags{Spam: true}, Note: "appeal upheld",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Before["level"])
	assert.Equal(t, int64(0), res.After["level"])

	rec := record(t, s, "bob")
	assert.Equal(t, moderationdom.LevelNone, rec.Level)
	assert.True(t, rec.ProtectionEligible)
	assert.True(t, rec.HardFlags.Spam)
	assert.Equal(t, int64(6), rec.TotalReports)

	audit := docstoretest.Read(t, s, docstore.Path(AuditCollection, res.AuditID)).Data
	assert.Equal(t, "ops-1", audit["actorUid"])
	assert.Equal(t, "setModeration", audit["action"])
	assert.Equal(t, "bob", audit["targetUid"])
	assert.Equal(t, "appeal upheld", audit["note"])
}

func TestAdminBanTakesLimitedUserOutOfPool(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	u.Now = func() time.Time { return now }

	docstoretest.Seed(t, s, moderationdom.Path("bob"), map[string]any{"level": int64(2), "protectionEligible": true})
	docstoretest.Seed(t, s, entitlement.Path("bob"), map[string]any{
		"protection": map[string]any{"active": true, "expiresAt": now.Add(24 * time.Hour)},
	})
	docstoretest.Seed(t, s, match.QueuePath("bob"), map[string]any{
		"userA": "bob", "mode": match.ModeAuto, "status": "searching", "limitedAdmittedAt": now,
	})

	past := now.Add(-time.Hour)
	_, err := u.AdminSetBan(context.Background(), admin, SetBanInput{UID: "bob", Active: true, Until: &past})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	until := now.Add(72 * time.Hour)
	res, err := u.AdminSetBan(context.Background(), admin, SetBanInput{UID: "bob", Active: true, Reason: " chargeback ", Until: &until})
	require.NoError(t, err)
	assert.Equal(t, false, res.Before["active"])
	assert.Equal(t, true, res.After["active"])

	ent := entitlement.Parse("bob", docstoretest.Read(t, s, entitlement.Path("bob")).Data)
	assert.True(t, ent.Ban.Effective(now))
	assert.Equal(t, "chargeback", ent.Ban.Reason)
	assert.Equal(t, until, ent.Ban.Until)

	q := docstoretest.Read(t, s, match.QueuePath("bob")).Data
	assert.Equal(t, "idle", q["status"])
	assert.Equal(t, "banned", q["idleReason"])
	assert.NotContains(t, q, "limitedAdmittedAt")
	assert.Equal(t, WriterAdmin, match.ParseServerMeta(q["serverMeta"]).LastWriter)

	// Lifting the ban clears until and leaves the queue alone.
	_, err = u.AdminSetBan(context.Background(), admin, SetBanInput{UID: "bob", Active: false})
	require.NoError(t, err)
	ent = entitlement.Parse("bob", docstoretest.Read(t, s, entitlement.Path("bob")).Data)
	assert.False(t, ent.Ban.Active)
	assert.True(t, ent.Ban.Until.IsZero())
	assert.Equal(t, 2, docstoretest.Count(t, s, AuditCollection))
}

func TestAdminBanIdlesSearchingUnmoderatedUser(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	docstoretest.Seed(t, s, match.QueuePath("alice"), map[string]any{"userA": "alice", "mode": match.ModeAuto, "status": "searching"})

	_, err := u.AdminSetBan(context.Background(), admin, SetBanInput{UID: "alice", Active: true, Reason: "test"})
	require.NoError(t, err)
	q := docstoretest.Read(t, s, match.QueuePath("alice")).Data
	assert.Equal(t, "idle", q["status"])
	assert.Equal(t, "banned", q["idleReason"])

	// Lifting the ban does not put the user back in the pool.
	_, err = u.AdminSetBan(context.Background(), admin, SetBanInput{UID: "alice", Active: false})
	require.NoError(t, err)
	assert.Equal(t, "idle", docstoretest.Read(t, s, match.QueuePath("alice")).Data["status"])
}

func TestAdminSetModerationWithBan(t *testing.T) {
	s := memstore.New()
	u := NewUsecase(s, nil, nil)
	docstoretest.Seed(t, s, match.QueuePath("carol"), map[string]any{"userA": "carol", "mode": match.ModeAuto, "status": "searching"})

	lv := int64(2)
	res, err := u.AdminSetModeration(context.Background(), admin, SetModerationInput{
		UID: "carol", Level: &lv, Ban: &SetBanInput{UID: "ignored", Active: true, Reason: "fraud"}, Note: "bulk action",
	})
	require.NoError(t, err)
	assert.Equal(t, moderationdom.LevelBlocked, record(t, s, "carol").Level)

	ent := entitlement.Parse("carol", docstoretest.Read(t, s, entitlement.Path("carol")).Data)
	assert.True(t, ent.Ban.Active)
	assert.Equal(t, "fraud", ent.Ban.Reason)
	assert.False(t, docstoretest.Read(t, s, entitlement.Path("ignored")).Exists)

	q := docstoretest.Read(t, s, match.QueuePath("carol")).Data
	assert.Equal(t, "idle", q["status"])
	assert.Equal(t, "banned", q["idleReason"])

	after, ok := res.After["protectionBan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, after["active"])
	assert.Equal(t, 1, docstoretest.Count(t, s, AuditCollection))

	// A ban-only change is accepted and leaves the moderation record alone.
	_, err = u.AdminSetModeration(context.Background(), admin, SetModerationInput{UID: "dave", Ban: &SetBanInput{Active: true}})
	require.NoError(t, err)
	assert.False(t, docstoretest.Read(t, s, moderationdom.Path("dave")).Exists)
	assert.True(t, entitlement.Parse("dave", docstoretest.Read(t, s, entitlement.Path("dave")).Data).Ban.Active)
}
