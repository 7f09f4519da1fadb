package pairing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/gate"
	"github.com/ehgus2390/chineseapp/internal/application/oplock"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/notification"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
)

// side is one participant of a pairing transaction.
type side struct {
	entry   match.QueueEntry
	search  match.SearchProfile
	backup  map[string]any // cache fields hydrated from the profile
	gate    gate.State
	allowed bool
	stamp   bool
	reason  string
}

func (s *side) complete() bool {
	return s.search.Complete()
}

// TryPair attempts to pair the queue entries selfID and candID in one
// transaction. Every read happens before the first write; the pair lock is
// the last read.
func (e *Engine) TryPair(ctx context.Context, selfID, candID string) (Outcome, error) {
	var (
		out  Outcome
		pair match.NewPair
	)
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		out = ""
		now := e.now()

		sd, err := tx.Get(match.SessionPath(selfID))
		if err != nil {
			return err
		}
		cd, err := tx.Get(match.SessionPath(candID))
		if err != nil {
			return err
		}
		selfEntry, ok := searchingEntry(sd)
		if !ok {
			out = OutcomeSelfUnavailable
			return nil
		}
		candEntry, ok := searchingEntry(cd)
		if !ok || candEntry.Owner == selfEntry.Owner {
			out = OutcomeCandidateUnavailable
			return nil
		}

		self, err := e.loadSide(tx, selfEntry, now)
		if err != nil {
			return err
		}
		cand, err := e.loadSide(tx, candEntry, now)
		if err != nil {
			return err
		}

		pairID, err := match.PairSessionID(self.entry.Owner, cand.entry.Owner)
		if err != nil {
			return err
		}
		existing, err := tx.Get(match.SessionPath(pairID))
		if err != nil {
			return err
		}
		expiresAt := now.Add(e.cfg.SessionTTL)
		lock, err := oplock.Check(tx, match.SessionPath(pairID), fmt.Sprintf("pair:%s:%d", pairID, expiresAt.UnixMilli()))
		if err != nil {
			return err
		}

		// Writes only from here on.
		selfUpdate := copyMap(self.backup)
		candUpdate := copyMap(cand.backup)
		flush := func() error {
			if err := mergeQueue(tx, self.entry.ID, selfUpdate, "hydrate"); err != nil {
				return err
			}
			return mergeQueue(tx, cand.entry.ID, candUpdate, "hydrate")
		}

		switch {
		case !self.complete():
			out = OutcomeSelfIncomplete
			return flush()
		case !cand.complete():
			out = OutcomeCandidateIncomplete
			return flush()
		case !self.allowed:
			out = OutcomeSelfGated
			e.log.Info("pairing refused by gate", zap.String("uid", self.entry.Owner), zap.String("reason", self.reason))
			if err := mergeQueue(tx, cand.entry.ID, candUpdate, "hydrate"); err != nil {
				return err
			}
			return resetToIdle(tx, self.entry.ID, self.reason, selfUpdate)
		case !cand.allowed:
			out = OutcomeCandidateGated
			e.log.Info("pairing refused by gate", zap.String("uid", cand.entry.Owner), zap.String("reason", cand.reason))
			if err := mergeQueue(tx, self.entry.ID, selfUpdate, "hydrate"); err != nil {
				return err
			}
			return resetToIdle(tx, cand.entry.ID, cand.reason, candUpdate)
		}

		compat := match.Compare(self.search, cand.search)
		switch {
		case !compat.OK():
			out = OutcomeIncompatible
			return flush()
		case existing.Exists:
			out = OutcomeSessionExists
			return flush()
		case lock.Held():
			out = OutcomeLocked
			return flush()
		}

		if err := match.ValidateSessionTransition("", match.StatusPending); err != nil {
			return err
		}
		pair = match.NewPair{
			ID:          pairID,
			UserA:       self.entry.Owner,
			UserB:       cand.entry.Owner,
			InitiatedBy: self.entry.Owner,
			ExpiresAt:   expiresAt,
			Shared:      compat.Shared,
			DistanceKm:  compat.DistanceKm,
		}
		if err := tx.Create(match.SessionPath(pairID), match.Stamp(pair.Data(), Writer, "pair")); err != nil {
			return err
		}
		if err := lock.Claim(tx, Writer); err != nil {
			return err
		}
		for _, s := range []*side{self, cand} {
			if s.stamp {
				if err := gate.Stamp(tx, s.entry.Owner, now); err != nil {
					return err
				}
			}
		}
		for _, n := range []notification.Record{
			notification.NewMatch(pair.UserA, pair.UserB, pairID),
			notification.NewMatch(pair.UserB, pair.UserA, pairID),
		} {
			if err := tx.Set(n.Path(), n.Data()); err != nil {
				return err
			}
		}
		if err := match.ValidateQueueTransition(match.QueueSearching, match.QueueIdle); err != nil {
			return err
		}
		for id, update := range map[string]map[string]any{self.entry.ID: selfUpdate, cand.entry.ID: candUpdate} {
			update["status"] = string(match.QueueIdle)
			update["matchedSessionId"] = pairID
			update["limitedAdmittedAt"] = docstore.Delete
			if err := tx.Merge(match.SessionPath(id), match.Stamp(update, Writer, "paired")); err != nil {
				return err
			}
		}
		out = OutcomePaired
		return nil
	})
	if err != nil {
		return "", err
	}
	if out == OutcomePaired {
		e.log.Info("paired",
			zap.String("sessionId", pair.ID),
			zap.String("userA", pair.UserA),
			zap.String("userB", pair.UserB),
			zap.Strings("shared", pair.Shared),
			zap.Float64("distanceKm", pair.DistanceKm),
		)
	}
	return out, nil
}

// loadSide hydrates the search profile from users/{uid} when the cache on
// the queue document is incomplete, then evaluates the gate. Reads only.
func (e *Engine) loadSide(tx docstore.Tx, entry match.QueueEntry, now time.Time) (*side, error) {
	s := &side{entry: entry, search: entry.Cached}

	if !entry.CacheComplete() {
		pd, err := tx.Get(profile.Path(entry.Owner))
		if err != nil {
			return nil, err
		}
		p, err := profile.Parse(entry.Owner, pd.Data)
		if err != nil {
			return nil, err
		}
		s.backup = map[string]any{}
		if !entry.HasInterests && len(match.NormalizeInterests(p.Interests)) > 0 {
			s.search.Interests = p.Interests
			list := make([]any, 0, len(p.Interests))
			for _, v := range p.Interests {
				list = append(list, v)
			}
			s.backup["interests"] = list
		}
		if !entry.HasLocation && p.HasLocation && p.Location.Valid() {
			s.search.Location = p.Location
			s.backup["location"] = p.Location.Map()
		}
		if !entry.HasRadius && p.DistanceKm > 0 {
			s.search.RadiusKm = p.DistanceKm
			s.backup["radiusKm"] = p.DistanceKm
		}
	}

	st, err := gate.Load(tx, entry.Owner)
	if err != nil {
		return nil, err
	}
	s.gate = st
	switch dec := gate.Evaluate(st, now); dec {
	case gate.Allow:
		s.allowed = true
	case gate.AllowLimited:
		s.allowed, s.stamp = e.cfg.Throttle.Check(st.Entitlement, entry.LimitedAdmittedAt, now)
		if !s.allowed {
			s.reason = "throttled"
		}
	default:
		s.reason = "gate_" + string(dec)
	}
	return s, nil
}

func mergeQueue(tx docstore.Tx, queueID string, update map[string]any, op string) error {
	if len(update) == 0 {
		return nil
	}
	return tx.Merge(match.SessionPath(queueID), match.Stamp(update, Writer, op))
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
