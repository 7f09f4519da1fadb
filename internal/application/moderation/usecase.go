// internal/application/moderation/usecase.go
package moderation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	moderationdom "github.com/ehgus2390/chineseapp/internal/domain/moderation"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// ------------------------------------------------------------
// Usecase
// ------------------------------------------------------------

type Usecase struct {
	store   docstore.Store
	log     *zap.Logger
	metrics *metrics.Metrics

	mailer  Mailer // optional
	alertTo string

	Now func() time.Time
}

func NewUsecase(store docstore.Store, log *zap.Logger, m *metrics.Metrics) *Usecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{store: store, log: log.Named("moderation"), metrics: m, Now: time.Now}
}

// NewUsecaseWithMailer also alerts alertTo when a user reaches level 2.
func NewUsecaseWithMailer(store docstore.Store, log *zap.Logger, m *metrics.Metrics, mailer Mailer, alertTo string) *Usecase {
	u := NewUsecase(store, log, m)
	u.mailer = mailer
	u.alertTo = strings.TrimSpace(alertTo)
	return u
}

// increment is the outcome of counting one report against a user.
type increment struct {
	uid       string
	before    moderationdom.Record
	after     moderationdom.Record
	escalated bool
}

// applyReport counts one report with reason against the moderation record
// read earlier in tx. The new level is max(current, LevelForReports(total)),
// so a level raised by an admin is kept when later reports derive a lower one.
func applyReport(tx docstore.Tx, current moderationdom.Record, reason string) (increment, error) {
	key := moderationdom.ReasonKey(reason)
	next := current
	next.TotalReports = current.TotalReports + 1
	next.ReasonCounts = make(map[string]int64, len(current.ReasonCounts)+1)
	for k, v := range current.ReasonCounts {
		next.ReasonCounts[k] = v
	}
	next.ReasonCounts[key]++
	if derived := moderationdom.LevelForReports(next.TotalReports); derived > current.Level {
		next.Level = derived
	}

	err := tx.Merge(moderationdom.Path(current.UID), map[string]any{
		"totalReports": next.TotalReports,
		"level":        int64(next.Level),
		"reasonCounts": map[string]any{key: next.ReasonCounts[key]},
		"lastReportAt": docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		return increment{}, err
	}
	return increment{
		uid:       current.UID,
		before:    current,
		after:     next,
		escalated: current.Level < moderationdom.LevelBlocked && next.Level == moderationdom.LevelBlocked,
	}, nil
}

// alert mails the operators about an escalation. Best effort.
func (u *Usecase) alert(ctx context.Context, inc increment, source string) {
	if !inc.escalated {
		return
	}
	u.log.Warn("user escalated to level 2",
		zap.String("uid", inc.uid),
		zap.Int64("totalReports", inc.after.TotalReports),
		zap.String("source", source),
	)
	if u.mailer == nil || u.alertTo == "" {
		return
	}

	reasons := make([]string, 0, len(inc.after.ReasonCounts))
	for k, v := range inc.after.ReasonCounts {
		reasons = append(reasons, fmt.Sprintf("  %s: %d", k, v))
	}
	sort.Strings(reasons)
	m := Mail{
		To:      u.alertTo,
		Subject: fmt.Sprintf("[kkiri] user %s reached moderation level 2", inc.uid),
		Text: fmt.Sprintf("User %s now has %d reports (via %s).\nReasons:\n%s\n",
			inc.uid, inc.after.TotalReports, source, strings.Join(reasons, "\n")),
	}
	if err := u.mailer.Send(ctx, m); err != nil {
		u.log.Warn("moderation alert mail failed", zap.String("uid", inc.uid), zap.Error(err))
	}
}
