package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/oplock"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
)

// ExpireSessions moves pending pair sessions and searching queue entries
// whose expiresAt has passed to expired. Each document is written at most
// once per UTC minute bucket.
func (s *Sweeper) ExpireSessions(ctx context.Context) (res Result, err error) {
	defer func() { s.finish("expire", res, err) }()

	now := s.now()
	for _, status := range []string{string(match.StatusPending), string(match.QueueSearching)} {
		r, err := s.expireStatus(ctx, status, now)
		res.Scanned += r.Scanned
		res.Changed += r.Changed
		res.Skipped += r.Skipped
		res.Failed += r.Failed
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Sweeper) expireStatus(ctx context.Context, status string, now time.Time) (Result, error) {
	var res Result
	opKey := "expire:" + oplock.MinuteKey(now)
	q := docstore.Query{
		Collection: match.SessionsCollection,
		OrderBy:    "expiresAt",
		Limit:      s.cfg.ExpiryPageSize,
	}.
		Where("mode", docstore.OpEq, match.ModeAuto).
		Where("status", docstore.OpEq, status).
		Where("expiresAt", docstore.OpLte, now)

	failed := map[string]bool{}
	for page := 0; page < s.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// Failed documents stay due; widen the page so they cannot hide
		// the documents behind them.
		q.Limit = s.cfg.ExpiryPageSize + len(failed)
		docs, err := s.store.Query(ctx, q)
		if err != nil {
			return res, fmt.Errorf("sweeper: query %s: %w", status, err)
		}
		if len(docs) == 0 {
			return res, nil
		}
		progress, newFailures := 0, 0
		for _, d := range docs {
			if failed[d.ID] {
				// Still due after failing earlier in this run; retried next run.
				continue
			}
			res.Scanned++
			changed, err := s.expireOne(ctx, d.ID, opKey, now)
			if err != nil {
				s.log.Warn("expire failed", zap.String("sessionId", d.ID), zap.Error(err))
				failed[d.ID] = true
				res.Failed++
				newFailures++
				continue
			}
			if changed {
				progress++
			} else {
				res.Skipped++
			}
		}
		res.Changed += progress
		// Every document of this page is locked for the minute, no
		// longer due or failed before; the next page would return the
		// same documents.
		if (progress == 0 && newFailures == 0) || len(docs) < q.Limit {
			return res, nil
		}
	}
	return res, nil
}

func (s *Sweeper) expireOne(ctx context.Context, id, opKey string, now time.Time) (bool, error) {
	var changed bool
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		changed = false
		path := match.SessionPath(id)
		d, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !d.Exists {
			return nil
		}

		var update map[string]any
		if match.IsQueueID(id) {
			entry, err := match.ParseQueueEntry(id, d.Data)
			if err != nil || !entry.Searching() || entry.ExpiresAt.IsZero() || entry.ExpiresAt.After(now) {
				return nil
			}
			if err := match.ValidateQueueTransition(entry.Status, match.QueueExpired); err != nil {
				return err
			}
			update = map[string]any{
				"status":            string(match.QueueExpired),
				"limitedAdmittedAt": docstore.Delete,
			}
		} else {
			sess, err := match.ParseSession(id, d.Data)
			if err != nil || sess.Mode != match.ModeAuto || !sess.Expired(now) {
				return nil
			}
			if err := match.ValidateSessionTransition(sess.Status, match.StatusExpired); err != nil {
				return err
			}
			update = map[string]any{
				"status":     string(match.StatusExpired),
				"resolvedAt": docstore.ServerTimestamp,
			}
		}

		lock, err := oplock.Check(tx, path, opKey)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}
		if err := tx.Merge(path, match.Stamp(update, WriterExpire, "expire")); err != nil {
			return err
		}
		if err := lock.Claim(tx, WriterExpire); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
