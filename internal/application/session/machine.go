// Package session advances pair sessions through
// pending -> accepted | rejected | expired.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/oplock"
	"github.com/ehgus2390/chineseapp/internal/application/requeue"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/chat"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/notification"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// Writers stamped on serverMeta.lastWriter.
const (
	WriterAccept  = "onMatchSessionAccepted"
	WriterReject  = "onMatchSessionRejected"
	WriterResolve = "onMatchSessionResolved"
)

var (
	acceptFields = []string{"status", "responses", "chatRoomId"}
	rejectFields = []string{"status", "responses"}
)

type Config struct {
	RequeueOnResolve bool
	Requeue          requeue.Requeuer
}

// Machine reacts to writes on match_sessions/{uidA}_{uidB}.
type Machine struct {
	store   docstore.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     Config

	Now func() time.Time
}

func NewMachine(store docstore.Store, log *zap.Logger, m *metrics.Metrics, cfg Config) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{store: store, log: log.Named("session"), metrics: m, cfg: cfg, Now: time.Now}
}

// sessionChange extracts the session delivery, or false when the change is
// not about a live pair session.
func sessionChange(ch docstore.Change) (id string, before, after map[string]any, ok bool) {
	id = ch.ID()
	if match.IsQueueID(id) || ch.Deleted() {
		return "", nil, nil, false
	}
	if ch.Before != nil {
		before = ch.Before.Data
	}
	return id, before, ch.After.Data, true
}

// HandleAcceptance links a chat room once both participants accepted.
func (m *Machine) HandleAcceptance(ctx context.Context, ch docstore.Change) error {
	id, before, after, ok := sessionChange(ch)
	if !ok {
		return nil
	}
	if !oplock.Changed(before, after, acceptFields...) || match.IsOwnWrite(before, after, WriterAccept) {
		return nil
	}
	sess, err := match.ParseSession(id, after)
	if err != nil {
		m.log.Warn("skip malformed session", zap.String("sessionId", id), zap.Error(err))
		return nil
	}
	if sess.Status != match.StatusAccepted && !sess.BothAccepted() {
		return nil
	}
	if sess.ChatRoomID != "" {
		return nil
	}

	opKey := fmt.Sprintf("%s:%s:%s:%s", WriterAccept, id, sess.Status, oplock.Canonical(after["responses"]))
	var (
		acquired bool
		cur      match.Session
	)
	err = m.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		acquired = false
		d, err := tx.Get(match.SessionPath(id))
		if err != nil {
			return err
		}
		if !d.Exists {
			return nil
		}
		cur, err = match.ParseSession(id, d.Data)
		if err != nil {
			return nil
		}
		if !cur.BothAccepted() && cur.Status != match.StatusAccepted {
			return nil
		}
		if cur.ChatRoomID != "" {
			return nil
		}
		if err := match.ValidateSessionTransition(cur.Status, match.StatusAccepted); err != nil {
			m.log.Info("acceptance after resolution ignored", zap.String("sessionId", id), zap.String("status", string(cur.Status)))
			return nil
		}
		room, err := tx.Get(chat.RoomPath(id))
		if err != nil {
			return err
		}
		lock, err := oplock.Check(tx, match.SessionPath(id), opKey)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}

		if !room.Exists {
			data := chat.NewRoomData(id, cur.Mode, cur.Participants())
			if err := tx.Create(chat.RoomPath(id), match.Stamp(data, WriterAccept, "createRoom")); err != nil {
				return err
			}
		}
		if err := tx.Merge(match.SessionPath(id), match.Stamp(map[string]any{
			"status":     string(match.StatusAccepted),
			"chatRoomId": id,
			"acceptedAt": docstore.ServerTimestamp,
		}, WriterAccept, "accept")); err != nil {
			return err
		}
		if err := lock.Claim(tx, WriterAccept); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		m.metrics.Event(WriterAccept, "error")
		return fmt.Errorf("session: accept %s: %w", id, err)
	}
	if !acquired {
		m.metrics.Event(WriterAccept, "skipped")
		return nil
	}
	m.log.Info("session accepted", zap.String("sessionId", id), zap.Strings("participants", cur.Participants()))
	m.metrics.Event(WriterAccept, "accepted")

	// Best effort: the room link above is what clients rely on.
	for _, n := range []notification.Record{
		notification.NewChat(cur.UserA, cur.UserB, id),
		notification.NewChat(cur.UserB, cur.UserA, id),
	} {
		if err := m.store.Set(ctx, n.Path(), n.Data()); err != nil {
			m.log.Warn("chat notification write failed", zap.String("sessionId", id), zap.String("uid", n.UID), zap.Error(err))
		}
	}
	return nil
}

// HandleRejection moves a pending session with a rejected response to
// rejected.
func (m *Machine) HandleRejection(ctx context.Context, ch docstore.Change) error {
	id, before, after, ok := sessionChange(ch)
	if !ok {
		return nil
	}
	if !oplock.Changed(before, after, rejectFields...) || match.IsOwnWrite(before, after, WriterReject) {
		return nil
	}
	sess, err := match.ParseSession(id, after)
	if err != nil || sess.Status != match.StatusPending || !sess.AnyRejected() {
		return nil
	}

	opKey := fmt.Sprintf("%s:%s:%s", WriterReject, id, oplock.Canonical(after["responses"]))
	var acquired bool
	err = m.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		acquired = false
		d, err := tx.Get(match.SessionPath(id))
		if err != nil {
			return err
		}
		if !d.Exists {
			return nil
		}
		cur, err := match.ParseSession(id, d.Data)
		if err != nil || cur.Status != match.StatusPending || !cur.AnyRejected() {
			return nil
		}
		lock, err := oplock.Check(tx, match.SessionPath(id), opKey)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}
		if err := match.ValidateSessionTransition(cur.Status, match.StatusRejected); err != nil {
			return err
		}
		var by []any
		for _, uid := range cur.Participants() {
			if cur.Responses[uid] == match.ResponseRejected {
				by = append(by, uid)
			}
		}
		if err := tx.Merge(match.SessionPath(id), match.Stamp(map[string]any{
			"status":     string(match.StatusRejected),
			"rejectedBy": by,
			"resolvedAt": docstore.ServerTimestamp,
		}, WriterReject, "reject")); err != nil {
			return err
		}
		if err := lock.Claim(tx, WriterReject); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		m.metrics.Event(WriterReject, "error")
		return fmt.Errorf("session: reject %s: %w", id, err)
	}
	if acquired {
		m.log.Info("session rejected", zap.String("sessionId", id))
		m.metrics.Event(WriterReject, "rejected")
	}
	return nil
}

// HandleResolution requeues both participants when a session enters
// rejected or expired.
func (m *Machine) HandleResolution(ctx context.Context, ch docstore.Change) error {
	id, before, after, ok := sessionChange(ch)
	if !ok {
		return nil
	}
	prev, _ := match.ParseSessionStatus(docstore.AsString(before["status"]))
	next, err := match.ParseSessionStatus(docstore.AsString(after["status"]))
	if err != nil || prev == next {
		return nil
	}
	if next != match.StatusRejected && next != match.StatusExpired {
		return nil
	}
	if !m.cfg.RequeueOnResolve {
		m.log.Debug("session resolved", zap.String("sessionId", id), zap.String("status", string(next)))
		return nil
	}

	opKey := fmt.Sprintf("%s:%s:%s", WriterResolve, id, next)
	var requeued []string
	err = m.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		requeued = requeued[:0]
		now := m.Now().UTC()
		d, err := tx.Get(match.SessionPath(id))
		if err != nil {
			return err
		}
		if !d.Exists {
			return nil
		}
		cur, err := match.ParseSession(id, d.Data)
		if err != nil || cur.Status != next {
			return nil
		}
		var pending []*requeue.Pending
		for _, uid := range cur.Participants() {
			p, err := m.cfg.Requeue.Read(tx, uid)
			if err != nil {
				return err
			}
			pending = append(pending, p)
		}
		lock, err := oplock.Check(tx, match.SessionPath(id), opKey)
		if err != nil {
			return err
		}
		if lock.Held() {
			return nil
		}
		for _, p := range pending {
			if p.Skip {
				m.log.Debug("requeue skipped", zap.String("uid", p.UID), zap.String("reason", p.Reason))
				continue
			}
			if err := m.cfg.Requeue.Write(tx, p, now); err != nil {
				return err
			}
			requeued = append(requeued, p.UID)
		}
		return lock.Claim(tx, WriterResolve)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.metrics.Event(WriterResolve, "timeout")
		} else {
			m.metrics.Event(WriterResolve, "error")
		}
		return fmt.Errorf("session: resolve %s: %w", id, err)
	}
	m.log.Info("session resolved",
		zap.String("sessionId", id),
		zap.String("status", string(next)),
		zap.Strings("requeued", requeued),
	)
	m.metrics.Event(WriterResolve, string(next))
	return nil
}
