// internal/application/moderation/admin.go
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	moderationdom "github.com/ehgus2390/chineseapp/internal/domain/moderation"
)

const (
	AuditCollection = "admin_audit"
	WriterAdmin     = "adminCallable"
)

// SetModerationInput changes a user's moderation record. nil fields are
// left untouched.
type SetModerationInput struct {
	UID                string
	Level              *int64
	ProtectionEligible *bool
	HardFlags          *moderationdom.HardFlags
	// Ban optionally sets or lifts the protection ban in the same
	// transaction; its UID is ignored.
	Ban  *SetBanInput
	Note string
}

// SetBanInput sets or lifts a protection ban.
type SetBanInput struct {
	UID    string
	Active bool
	Reason string
	Until  *time.Time
}

// AdminResult is returned by the admin operations.
type AdminResult struct {
	AuditID string         `json:"auditId"`
	Before  map[string]any `json:"before"`
	After   map[string]any `json:"after"`
}

func requireAdmin(actor Actor) error {
	if strings.TrimSpace(actor.UID) == "" || !actor.Admin {
		return ErrPermissionDenied
	}
	return nil
}

// AdminSetModeration overrides level, eligibility, hard flags and,
// optionally, the protection ban (the same write adminSetBan does).
func (u *Usecase) AdminSetModeration(ctx context.Context, actor Actor, in SetModerationInput) (*AdminResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.UID = strings.TrimSpace(in.UID)
	if in.UID == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidArgument)
	}
	if in.Level == nil && in.ProtectionEligible == nil && in.HardFlags == nil && in.Ban == nil {
		return nil, fmt.Errorf("%w: nothing to change", ErrInvalidArgument)
	}
	var bw *banWrite
	if in.Ban != nil {
		ban := *in.Ban
		ban.UID = in.UID
		var err error
		if bw, err = newBanWrite(ban, u.Now().UTC()); err != nil {
			return nil, err
		}
	}
	update := map[string]any{}
	if in.Level != nil {
		lv, err := moderationdom.ParseLevel(*in.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		update["level"] = int64(lv)
	}
	if in.ProtectionEligible != nil {
		update["protectionEligible"] = *in.ProtectionEligible
	}
	if in.HardFlags != nil {
		update["hardFlags"] = in.HardFlags.Map()
	}
	update["updatedAt"] = docstore.ServerTimestamp

	res := &AdminResult{AuditID: u.store.NewID()}
	err := u.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		d, err := tx.Get(moderationdom.Path(in.UID))
		if err != nil {
			return err
		}
		if bw != nil {
			if err := bw.read(tx); err != nil {
				return err
			}
		}
		res.Before = recordSummary(moderationdom.Parse(in.UID, d.Data))
		after := moderationdom.Parse(in.UID, d.Data)
		if in.Level != nil {
			after.Level = moderationdom.Level(*in.Level)
		}
		if in.ProtectionEligible != nil {
			after.ProtectionEligible = *in.ProtectionEligible
		}
		if in.HardFlags != nil {
			after.HardFlags = *in.HardFlags
		}
		res.After = recordSummary(after)
		if bw != nil {
			res.Before["protectionBan"] = banSummary(bw.before)
			res.After["protectionBan"] = banSummary(bw.after)
		}

		if len(update) > 1 {
			if err := tx.Merge(moderationdom.Path(in.UID), update); err != nil {
				return err
			}
		}
		if bw != nil {
			if err := bw.write(tx); err != nil {
				return err
			}
		}
		return writeAudit(tx, res, actor, "setModeration", in.UID, in.Note)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: set moderation %s: %w", in.UID, err)
	}
	u.log.Info("admin set moderation",
		zap.String("actor", actor.UID),
		zap.String("uid", in.UID),
		zap.Any("before", res.Before),
		zap.Any("after", res.After),
	)
	return res, nil
}

// AdminSetBan sets or lifts protectionBan. Setting a ban also forces a
// searching queue entry idle, whatever the user's moderation level.
func (u *Usecase) AdminSetBan(ctx context.Context, actor Actor, in SetBanInput) (*AdminResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.UID = strings.TrimSpace(in.UID)
	if in.UID == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidArgument)
	}
	bw, err := newBanWrite(in, u.Now().UTC())
	if err != nil {
		return nil, err
	}

	res := &AdminResult{AuditID: u.store.NewID()}
	err = u.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := bw.read(tx); err != nil {
			return err
		}
		res.Before = banSummary(bw.before)
		res.After = banSummary(bw.after)
		if err := bw.write(tx); err != nil {
			return err
		}
		return writeAudit(tx, res, actor, "setBan", in.UID, bw.in.Reason)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: set ban %s: %w", in.UID, err)
	}
	u.log.Info("admin set ban",
		zap.String("actor", actor.UID),
		zap.String("uid", in.UID),
		zap.Any("before", res.Before),
		zap.Any("after", res.After),
		zap.Bool("dequeued", bw.dequeued),
	)
	return res, nil
}

// ----- ban write -----

// banWrite is one ban change split into its read and write halves so it
// can join the set-moderation transaction.
type banWrite struct {
	in       SetBanInput
	data     map[string]any
	before   entitlement.Ban
	after    entitlement.Ban
	queue    *docstore.Doc
	dequeued bool
}

func newBanWrite(in SetBanInput, now time.Time) (*banWrite, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Active && in.Until != nil && !in.Until.After(now) {
		return nil, fmt.Errorf("%w: until must be in the future", ErrInvalidArgument)
	}
	bw := &banWrite{
		in:    in,
		after: entitlement.Ban{Active: in.Active, Reason: in.Reason},
		data: map[string]any{
			"active": in.Active,
			"reason": in.Reason,
			"until":  docstore.Delete,
		},
	}
	if in.Active && in.Until != nil {
		bw.after.Until = in.Until.UTC()
		bw.data["until"] = bw.after.Until
	}
	return bw, nil
}

func (b *banWrite) read(tx docstore.Tx) error {
	b.dequeued = false
	ed, err := tx.Get(entitlement.Path(b.in.UID))
	if err != nil {
		return err
	}
	b.before = entitlement.Parse(b.in.UID, ed.Data).Ban
	b.queue, err = tx.Get(match.QueuePath(b.in.UID))
	return err
}

func (b *banWrite) write(tx docstore.Tx) error {
	if err := tx.Merge(entitlement.Path(b.in.UID), map[string]any{
		"protectionBan": b.data,
		"updatedAt":     docstore.ServerTimestamp,
	}); err != nil {
		return err
	}
	if !b.in.Active || b.queue == nil || !b.queue.Exists {
		return nil
	}
	q, err := match.ParseQueueEntry(b.queue.ID, b.queue.Data)
	if err != nil || !q.Searching() {
		return nil
	}
	if err := tx.Merge(match.QueuePath(b.in.UID), match.Stamp(map[string]any{
		"status":            string(match.QueueIdle),
		"idleReason":        "banned",
		"limitedAdmittedAt": docstore.Delete,
	}, WriterAdmin, "ban")); err != nil {
		return err
	}
	b.dequeued = true
	return nil
}

func writeAudit(tx docstore.Tx, res *AdminResult, actor Actor, action, target, note string) error {
	return tx.Create(docstore.Path(AuditCollection, res.AuditID), map[string]any{
		"actorUid":  actor.UID,
		"action":    action,
		"targetUid": target,
		"before":    res.Before,
		"after":     res.After,
		"note":      note,
		"createdAt": docstore.ServerTimestamp,
	})
}

func recordSummary(r moderationdom.Record) map[string]any {
	return map[string]any{
		"level":              int64(r.Level),
		"totalReports":       r.TotalReports,
		"protectionEligible": r.ProtectionEligible,
		"hardFlags":          r.HardFlags.Map(),
	}
}

func banSummary(b entitlement.Ban) map[string]any {
	out := map[string]any{"active": b.Active, "reason": b.Reason}
	if !b.Until.IsZero() {
		out["until"] = b.Until
	}
	return out
}
