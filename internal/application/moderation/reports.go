// internal/application/moderation/reports.go
package moderation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	moderationdom "github.com/ehgus2390/chineseapp/internal/domain/moderation"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
)

const (
	WriterReport    = "ingestReport"
	WriterCommunity = "communityReport"

	// CommunityRoot is the parent of community posts.
	CommunityRoot = "community/apps/main/root"

	// HideThreshold hides community content at this many reports.
	HideThreshold = 3
)

// HandleReportCreated counts a reports/{id} document against its target.
func (u *Usecase) HandleReportCreated(ctx context.Context, ch docstore.Change) error {
	coll, id := docstore.SplitPath(ch.Path)
	if coll != moderationdom.ReportsCollection || ch.Deleted() {
		return nil
	}
	if moderationdom.ParseReport(id, ch.After.Data).Processed {
		return nil
	}

	var (
		inc     increment
		skipped string
	)
	err := u.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inc, skipped = increment{}, ""
		rd, err := tx.Get(ch.Path)
		if err != nil {
			return err
		}
		if !rd.Exists {
			return nil
		}
		rep := moderationdom.ParseReport(id, rd.Data)
		if rep.Processed {
			return nil
		}

		switch {
		case rep.TargetUID == "":
			skipped = moderationdom.SkipTargetMissing
		case rep.TargetUID == rep.ReporterUID:
			skipped = moderationdom.SkipSelfReport
		}
		var current moderationdom.Record
		if skipped == "" {
			pd, err := tx.Get(profile.Path(rep.TargetUID))
			if err != nil {
				return err
			}
			if !pd.Exists {
				skipped = moderationdom.SkipTargetMissing
			} else {
				md, err := tx.Get(moderationdom.Path(rep.TargetUID))
				if err != nil {
					return err
				}
				current = moderationdom.Parse(rep.TargetUID, md.Data)
			}
		}

		if skipped == "" {
			if inc, err = applyReport(tx, current, rep.Reason); err != nil {
				return err
			}
		}
		return tx.Merge(ch.Path, moderationdom.ProcessedData(skipped))
	})
	if err != nil {
		u.metrics.Event(WriterReport, "error")
		return fmt.Errorf("moderation: report %s: %w", id, err)
	}
	if skipped != "" {
		u.log.Info("report skipped", zap.String("reportId", id), zap.String("reason", skipped))
		u.metrics.Event(WriterReport, "skipped")
		return nil
	}
	if inc.uid != "" {
		u.metrics.Event(WriterReport, "counted")
		u.alert(ctx, inc, "report "+id)
	}
	return nil
}

// communityReport is a parsed community report path.
type communityReport struct {
	contentPath string
	reportPath  string
	reporterUID string
	comment     bool
}

// parseCommunityReport accepts
// community/apps/main/root/posts/{postId}/reports/{uid} and
// community/apps/main/root/posts/{postId}/comments/{commentId}/reports/{uid}.
func parseCommunityReport(path string) (communityReport, bool) {
	path = strings.Trim(path, "/")
	if !strings.HasPrefix(path, CommunityRoot+"/posts/") {
		return communityReport{}, false
	}
	rest := strings.Split(strings.TrimPrefix(path, CommunityRoot+"/"), "/")
	for _, p := range rest {
		if p == "" {
			return communityReport{}, false
		}
	}
	switch {
	case len(rest) == 4 && rest[0] == "posts" && rest[2] == moderationdom.ReportsCollection:
		return communityReport{
			contentPath: docstore.Path(CommunityRoot, "posts", rest[1]),
			reportPath:  path,
			reporterUID: rest[3],
		}, true
	case len(rest) == 6 && rest[0] == "posts" && rest[2] == "comments" && rest[4] == moderationdom.ReportsCollection:
		return communityReport{
			contentPath: docstore.Path(CommunityRoot, "posts", rest[1], "comments", rest[3]),
			reportPath:  path,
			reporterUID: rest[5],
			comment:     true,
		}, true
	}
	return communityReport{}, false
}

// HandleCommunityReport recounts the reports on a post or comment, hides
// it at HideThreshold and counts the report against the author.
func (u *Usecase) HandleCommunityReport(ctx context.Context, ch docstore.Change) error {
	cr, ok := parseCommunityReport(ch.Path)
	if !ok || ch.Deleted() {
		return nil
	}
	if moderationdom.ParseReport(cr.reporterUID, ch.After.Data).Processed {
		return nil
	}

	var (
		inc     increment
		skipped string
		count   int
	)
	err := u.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inc, skipped, count = increment{}, "", 0
		rd, err := tx.Get(cr.reportPath)
		if err != nil {
			return err
		}
		if !rd.Exists {
			return nil
		}
		rep := moderationdom.ParseReport(cr.reporterUID, rd.Data)
		if rep.Processed {
			return nil
		}
		cd, err := tx.Get(cr.contentPath)
		if err != nil {
			return err
		}
		if !cd.Exists {
			skipped = moderationdom.SkipPostMissing
			if cr.comment {
				skipped = moderationdom.SkipCommentMissing
			}
			return tx.Merge(cr.reportPath, moderationdom.ProcessedData(skipped))
		}

		reports, err := tx.Query(docstore.Query{Collection: docstore.Path(cr.contentPath, moderationdom.ReportsCollection)})
		if err != nil {
			return err
		}
		count = len(reports)
		author := docstore.AsString(cd.Data["authorUid"])

		var current moderationdom.Record
		switch {
		case author == "":
		case author == cr.reporterUID:
			skipped = moderationdom.SkipSelfReport
		default:
			md, err := tx.Get(moderationdom.Path(author))
			if err != nil {
				return err
			}
			current = moderationdom.Parse(author, md.Data)
		}

		if err := tx.Merge(cr.contentPath, map[string]any{
			"reportCount": int64(count),
			"isHidden":    count >= HideThreshold,
		}); err != nil {
			return err
		}
		if current.UID != "" {
			if inc, err = applyReport(tx, current, rep.Reason); err != nil {
				return err
			}
		}
		return tx.Merge(cr.reportPath, moderationdom.ProcessedData(skipped))
	})
	if err != nil {
		u.log.Error("community report failed", zap.String("path", cr.reportPath), zap.Error(err))
		u.metrics.Event(WriterCommunity, "error")
		return fmt.Errorf("moderation: community report %s: %w", cr.reportPath, err)
	}
	u.log.Info("community report processed",
		zap.String("content", cr.contentPath),
		zap.Int("reportCount", count),
		zap.String("skipped", skipped),
	)
	u.metrics.Event(WriterCommunity, "processed")
	if inc.uid != "" {
		u.alert(ctx, inc, cr.contentPath)
	}
	return nil
}
