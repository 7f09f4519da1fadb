// Package pairing turns searching queue documents into pair sessions.
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
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// Writer is the serverMeta.lastWriter of every write this package makes.
const Writer = "pairQueue"

// queueTriggerFields are the queue fields whose change starts a pairing
// run; cache backfills and serverMeta stamps do not.
var queueTriggerFields = []string{"status", "mode", "userA"}

// Outcome of one pairing attempt.
type Outcome string

const (
	OutcomePaired               Outcome = "paired"
	OutcomeSelfUnavailable      Outcome = "self_unavailable"
	OutcomeCandidateUnavailable Outcome = "candidate_unavailable"
	OutcomeSelfIncomplete       Outcome = "self_incomplete"
	OutcomeCandidateIncomplete  Outcome = "candidate_incomplete"
	OutcomeSelfGated            Outcome = "self_gated"
	OutcomeCandidateGated       Outcome = "candidate_gated"
	OutcomeIncompatible         Outcome = "incompatible"
	OutcomeSessionExists        Outcome = "session_exists"
	OutcomeLocked               Outcome = "locked"
)

// stopsSearch reports outcomes after which no other candidate can help.
func (o Outcome) stopsSearch() bool {
	switch o {
	case OutcomePaired, OutcomeSelfUnavailable, OutcomeSelfIncomplete, OutcomeSelfGated:
		return true
	}
	return false
}

type Config struct {
	CandidateLimit int
	SessionTTL     time.Duration
	Throttle       gate.Throttle
}

type Engine struct {
	store   docstore.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     Config

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewEngine(store docstore.Store, log *zap.Logger, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 20
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:   store,
		log:     log.Named("pairing"),
		metrics: m,
		cfg:     cfg,
		Now:     time.Now,
	}
}

func (e *Engine) now() time.Time {
	return e.Now().UTC().Truncate(time.Millisecond)
}

// HandleQueueWrite reacts to a write on match_sessions/queue_<uid>.
func (e *Engine) HandleQueueWrite(ctx context.Context, ch docstore.Change) error {
	id := ch.ID()
	if !match.IsQueueID(id) || ch.Deleted() {
		return nil
	}
	var before map[string]any
	if ch.Before != nil {
		before = ch.Before.Data
	}
	after := ch.After.Data

	if !oplock.Changed(before, after, queueTriggerFields...) {
		e.metrics.Event(Writer, "unchanged")
		return nil
	}
	if match.IsOwnWrite(before, after, Writer) {
		e.metrics.Event(Writer, "own_write")
		return nil
	}
	entry, err := match.ParseQueueEntry(id, after)
	if err != nil {
		e.log.Warn("skip malformed queue document", zap.String("queueId", id), zap.Error(err))
		e.metrics.Event(Writer, "malformed")
		return nil
	}
	if !entry.Searching() {
		return nil
	}

	admitted, err := e.admit(ctx, id)
	if err != nil {
		e.metrics.Event(Writer, "error")
		return fmt.Errorf("pairing: admit %s: %w", id, err)
	}
	if !admitted {
		e.metrics.Event(Writer, "refused")
		return nil
	}

	candidates, err := e.candidates(ctx, id)
	if err != nil {
		e.metrics.Event(Writer, "error")
		return fmt.Errorf("pairing: candidates for %s: %w", id, err)
	}

	var lastErr error
	for _, cand := range candidates {
		out, err := e.TryPair(ctx, id, cand)
		if err != nil {
			lastErr = err
			e.log.Warn("pair attempt failed", zap.String("queueId", id), zap.String("candidate", cand), zap.Error(err))
			e.metrics.Pairing("error")
			continue
		}
		e.metrics.Pairing(string(out))
		if out.stopsSearch() {
			e.metrics.Event(Writer, string(out))
			return nil
		}
	}
	if lastErr != nil {
		e.metrics.Event(Writer, "error")
		return lastErr
	}
	e.log.Debug("no partner found", zap.String("queueId", id), zap.Int("candidates", len(candidates)))
	e.metrics.Event(Writer, "unpaired")
	return nil
}

// admit runs the entry gate for the queue owner. Refused entries are reset
// to idle inside the same transaction.
func (e *Engine) admit(ctx context.Context, queueID string) (bool, error) {
	var admitted bool
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		admitted = false
		now := e.now()

		d, err := tx.Get(match.SessionPath(queueID))
		if err != nil {
			return err
		}
		entry, ok := searchingEntry(d)
		if !ok {
			return nil
		}
		st, err := gate.Load(tx, entry.Owner)
		if err != nil {
			return err
		}

		dec := gate.Evaluate(st, now)
		switch dec {
		case gate.Allow:
			admitted = true
			return nil
		case gate.AllowLimited:
			allowed, stamp := e.cfg.Throttle.Check(st.Entitlement, entry.LimitedAdmittedAt, now)
			if !allowed {
				e.log.Info("limited user throttled", zap.String("uid", entry.Owner))
				return resetToIdle(tx, queueID, "throttled", nil)
			}
			admitted = true
			if !stamp {
				return nil
			}
			if err := gate.Stamp(tx, entry.Owner, now); err != nil {
				return err
			}
			return tx.Merge(match.SessionPath(queueID), match.Stamp(map[string]any{
				"limitedAdmittedAt": now,
			}, Writer, "admitLimited"))
		default:
			e.log.Info("queue entry refused by gate", zap.String("uid", entry.Owner), zap.String("decision", string(dec)))
			return resetToIdle(tx, queueID, "gate_"+string(dec), nil)
		}
	})
	return admitted, err
}

// candidates returns up to CandidateLimit other searching queue ids.
func (e *Engine) candidates(ctx context.Context, selfID string) ([]string, error) {
	q := docstore.Query{Collection: match.SessionsCollection, Limit: e.cfg.CandidateLimit + 1}.
		Where("mode", docstore.OpEq, match.ModeAuto).
		Where("status", docstore.OpEq, string(match.QueueSearching))
	docs, err := e.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.ID == selfID || !match.IsQueueID(d.ID) {
			continue
		}
		out = append(out, d.ID)
		if len(out) == e.cfg.CandidateLimit {
			break
		}
	}
	return out, nil
}

func searchingEntry(d *docstore.Doc) (match.QueueEntry, bool) {
	if d == nil || !d.Exists {
		return match.QueueEntry{}, false
	}
	entry, err := match.ParseQueueEntry(d.ID, d.Data)
	if err != nil || !entry.Searching() {
		return match.QueueEntry{}, false
	}
	return entry, true
}

// resetToIdle takes a searching queue document out of the pool. extra is
// merged into the same write.
func resetToIdle(tx docstore.Tx, queueID, reason string, extra map[string]any) error {
	if err := match.ValidateQueueTransition(match.QueueSearching, match.QueueIdle); err != nil {
		return err
	}
	data := map[string]any{}
	for k, v := range extra {
		data[k] = v
	}
	data["status"] = string(match.QueueIdle)
	data["idleReason"] = reason
	data["limitedAdmittedAt"] = docstore.Delete
	return tx.Merge(match.SessionPath(queueID), match.Stamp(data, Writer, "reset:"+reason))
}
