// Package profilesync keeps the search profile cached on a user's queue
// document in step with users/{uid}.
package profilesync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/oplock"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

const Writer = "onUserProfileWrite"

var watchedFields = []string{"interests", "location", "distanceKm", "deletionRequestedAt"}

var cacheFields = []string{"interests", "location", "radiusKm"}

type Syncer struct {
	store   docstore.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(store docstore.Store, log *zap.Logger, m *metrics.Metrics) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{store: store, log: log.Named("profilesync"), metrics: m}
}

// HandleUserWrite refreshes or clears the queue cache after a profile
// change. A deleted profile, or one marked for deletion, also leaves the
// auto-match pool.
func (s *Syncer) HandleUserWrite(ctx context.Context, ch docstore.Change) error {
	coll, uid := docstore.SplitPath(ch.Path)
	if coll != profile.UsersCollection || uid == "" {
		return nil
	}
	var before, after map[string]any
	if ch.Before != nil {
		before = ch.Before.Data
	}
	if ch.After != nil {
		after = ch.After.Data
	}
	if !ch.Deleted() && !oplock.Changed(before, after, watchedFields...) {
		return nil
	}

	var outcome string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		outcome = ""
		pd, err := tx.Get(profile.Path(uid))
		if err != nil {
			return err
		}
		qd, err := tx.Get(match.QueuePath(uid))
		if err != nil {
			return err
		}
		if !qd.Exists {
			return nil
		}
		q, err := match.ParseQueueEntry(qd.ID, qd.Data)
		if err != nil {
			outcome = "malformed_queue"
			return nil
		}

		if !pd.Exists {
			return s.leave(tx, q, "profile_missing", &outcome)
		}
		p, err := profile.Parse(uid, pd.Data)
		if err != nil {
			return err
		}
		if !p.DeletionRequestedAt.IsZero() {
			return s.leave(tx, q, "deletion_requested", &outcome)
		}

		sp, complete := p.SearchProfile()
		if !complete {
			if !q.HasInterests && !q.HasLocation && !q.HasRadius {
				return nil
			}
			outcome = "cache_cleared"
			drop := map[string]any{}
			for _, f := range cacheFields {
				drop[f] = docstore.Delete
			}
			return tx.Merge(qd.Path, match.Stamp(drop, Writer, "clearCache"))
		}
		fresh := match.CacheData(sp)
		if oplock.FieldsHash(fresh, cacheFields...) == oplock.FieldsHash(qd.Data, cacheFields...) {
			return nil
		}
		outcome = "cache_refreshed"
		return tx.Merge(qd.Path, match.Stamp(fresh, Writer, "refreshCache"))
	})
	if err != nil {
		s.metrics.Event(Writer, "error")
		return fmt.Errorf("profilesync: %s: %w", uid, err)
	}
	if outcome != "" {
		s.log.Info("queue cache synced", zap.String("uid", uid), zap.String("outcome", outcome))
		s.metrics.Event(Writer, outcome)
	}
	return nil
}

// leave takes a searching entry out of the pool and drops its cache.
func (s *Syncer) leave(tx docstore.Tx, q match.QueueEntry, reason string, outcome *string) error {
	if q.Status != match.QueueSearching && !q.HasInterests && !q.HasLocation && !q.HasRadius {
		return nil
	}
	update := map[string]any{
		"interests": docstore.Delete,
		"location":  docstore.Delete,
		"radiusKm":  docstore.Delete,
	}
	if q.Status == match.QueueSearching {
		update["status"] = string(match.QueueIdle)
		update["idleReason"] = reason
		update["limitedAdmittedAt"] = docstore.Delete
	}
	*outcome = reason
	return tx.Merge(match.QueuePath(q.Owner), match.Stamp(update, Writer, "leave:"+reason))
}
