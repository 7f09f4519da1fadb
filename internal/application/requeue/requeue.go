// Package requeue puts users back into the auto-match pool.
package requeue

import (
	"context"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
)

const Writer = "requeueUser"

const DefaultTTL = 5 * time.Minute

// Requeuer upserts queue_<uid> back to searching. Use Read and then Write
// when the requeue is part of a larger transaction.
type Requeuer struct {
	TTL time.Duration
}

// Pending is the read half of a requeue.
type Pending struct {
	UID    string
	Search match.SearchProfile
	// Skip is set when the user must not be requeued; Reason says why.
	Skip   bool
	Reason string
}

// Read loads the profile and current queue document of uid.
func (r Requeuer) Read(tx docstore.Tx, uid string) (*Pending, error) {
	pd, err := tx.Get(profile.Path(uid))
	if err != nil {
		return nil, err
	}
	qd, err := tx.Get(match.QueuePath(uid))
	if err != nil {
		return nil, err
	}
	p := &Pending{UID: uid}
	if !pd.Exists {
		p.Skip, p.Reason = true, "profile_missing"
		return p, nil
	}
	prof, err := profile.Parse(uid, pd.Data)
	if err != nil {
		return nil, err
	}
	if !prof.DeletionRequestedAt.IsZero() {
		p.Skip, p.Reason = true, "deletion_requested"
		return p, nil
	}
	sp, ok := prof.SearchProfile()
	if !ok {
		p.Skip, p.Reason = true, "profile_incomplete"
		return p, nil
	}
	if qd.Exists {
		if q, err := match.ParseQueueEntry(qd.ID, qd.Data); err == nil && q.Searching() {
			p.Skip, p.Reason = true, "already_searching"
			return p, nil
		}
	}
	p.Search = sp
	return p, nil
}

// Write applies the requeue. No reads may follow it in tx.
func (r Requeuer) Write(tx docstore.Tx, p *Pending, now time.Time) error {
	if p == nil || p.Skip {
		return nil
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data := match.SearchingData(p.UID, p.Search, now.Add(ttl))
	for _, f := range match.TransientQueueFields {
		data[f] = docstore.Delete
	}
	data["matchedSessionId"] = docstore.Delete
	data["idleReason"] = docstore.Delete
	return tx.Merge(match.QueuePath(p.UID), match.Stamp(data, Writer, "requeue"))
}

// Requeue runs Read and Write for uid in its own transaction. It reports
// whether the user was put back into the pool.
func (r Requeuer) Requeue(ctx context.Context, store docstore.Store, uid string, now time.Time) (bool, error) {
	var done bool
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, err := r.Read(tx, uid)
		if err != nil {
			return err
		}
		done = !p.Skip
		return r.Write(tx, p, now)
	})
	return done, err
}
