// Package gate decides whether a user may take part in auto-matching,
// based on their moderation level and protection entitlement.
package gate

import (
	"fmt"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
	"github.com/ehgus2390/chineseapp/internal/domain/moderation"
)

type Decision string

const (
	Allow        Decision = "ALLOW"
	AllowLimited Decision = "ALLOW_LIMITED"
	// Delay refuses queue entry without escalating; callers treat it like
	// Block for the current attempt.
	Delay Decision = "DELAY"
	Block Decision = "BLOCK"
)

// Permits reports whether the decision lets the user into the queue
// (AllowLimited still has to pass the throttle).
func (d Decision) Permits() bool {
	return d == Allow || d == AllowLimited
}

// State is the gate input for one user, read inside the caller's
// transaction.
type State struct {
	UID         string
	Moderation  moderation.Record
	Entitlement entitlement.Record
}

// Load reads user_moderation/{uid} and user_entitlements/{uid}.
func Load(tx docstore.Tx, uid string) (State, error) {
	md, err := tx.Get(moderation.Path(uid))
	if err != nil {
		return State{}, fmt.Errorf("gate: read moderation %s: %w", uid, err)
	}
	ed, err := tx.Get(entitlement.Path(uid))
	if err != nil {
		return State{}, fmt.Errorf("gate: read entitlement %s: %w", uid, err)
	}
	return State{
		UID:         uid,
		Moderation:  moderation.Parse(uid, md.Data),
		Entitlement: entitlement.Parse(uid, ed.Data),
	}, nil
}

// Evaluate applies the decision table.
//
//	level 0                                   ALLOW
//	level 1, protection valid                 ALLOW
//	level 1, otherwise                        DELAY
//	level 2, protection valid, eligible,
//	         no severe/sexual/violence flag   ALLOW_LIMITED
//	level 2, otherwise                        BLOCK
//
// Protection is valid when active, unexpired and not voided by an
// effective ban.
func Evaluate(s State, now time.Time) Decision {
	valid := s.Entitlement.ProtectionValid(now)
	switch s.Moderation.Level {
	case moderation.LevelNone:
		return Allow
	case moderation.LevelLimited:
		if valid {
			return Allow
		}
		return Delay
	default:
		if valid && s.Moderation.ProtectionEligible && !s.Moderation.HardFlags.Disqualifying() {
			return AllowLimited
		}
		return Block
	}
}

// EvaluateGate reads the user's records and decides.
func EvaluateGate(tx docstore.Tx, uid string, now time.Time) (Decision, State, error) {
	s, err := Load(tx, uid)
	if err != nil {
		return Block, State{}, err
	}
	return Evaluate(s, now), s, nil
}
