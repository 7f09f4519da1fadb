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

// CleanupQueue strips handshake leftovers from settled queue documents.
// Searching entries and entries written within the grace period are left
// alone so a concurrent pairing is never disturbed.
func (s *Sweeper) CleanupQueue(ctx context.Context) (res Result, err error) {
	defer func() { s.finish("cleanup", res, err) }()

	now := s.now()
	opKey := "cleanup:" + oplock.MinuteKey(now)
	cursor := ""
	for page := 0; page < s.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		docs, err := s.store.Query(ctx, docstore.Query{
			Collection:   match.SessionsCollection,
			IDStart:      match.QueuePrefix,
			IDEnd:        match.QueueIDEnd,
			StartAfterID: cursor,
			Limit:        s.cfg.CleanupPageSize,
		})
		if err != nil {
			return res, fmt.Errorf("sweeper: scan queue: %w", err)
		}
		if len(docs) == 0 {
			return res, nil
		}
		cursor = docs[len(docs)-1].ID

		for _, d := range docs {
			res.Scanned++
			if !s.needsCleanup(d, now) {
				res.Skipped++
				continue
			}
			changed, err := s.cleanupOne(ctx, d.ID, opKey, now)
			if err != nil {
				s.log.Warn("queue cleanup failed", zap.String("queueId", d.ID), zap.Error(err))
				res.Failed++
				continue
			}
			if changed {
				res.Changed++
			}
		}
		if len(docs) < s.cfg.CleanupPageSize {
			return res, nil
		}
	}
	return res, nil
}

// needsCleanup reports whether d is settled and carries transient fields.
func (s *Sweeper) needsCleanup(d *docstore.Doc, now time.Time) bool {
	if d == nil || !d.Exists {
		return false
	}
	entry, err := match.ParseQueueEntry(d.ID, d.Data)
	if err != nil || entry.Status == match.QueueSearching {
		return false
	}
	updated := d.UpdateTime
	if updated.IsZero() {
		updated = entry.UpdatedAt
	}
	if !updated.IsZero() && now.Sub(updated) < s.cfg.CleanupGrace {
		return false
	}
	return len(transientPresent(d.Data)) > 0
}

func transientPresent(data map[string]any) []string {
	var out []string
	for _, f := range match.TransientQueueFields {
		if _, ok := data[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (s *Sweeper) cleanupOne(ctx context.Context, id, opKey string, now time.Time) (bool, error) {
	var changed bool
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		changed = false
		path := match.SessionPath(id)
		d, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !s.needsCleanup(d, now) {
			return nil
		}
		lock, err := oplock.Check(tx, path, opKey)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}
		update := map[string]any{}
		for _, f := range transientPresent(d.Data) {
			update[f] = docstore.Delete
		}
		if err := tx.Merge(path, match.Stamp(update, WriterCleanup, "cleanup")); err != nil {
			return err
		}
		if err := lock.Claim(tx, WriterCleanup); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
