package gate

import (
	"fmt"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
)

// DefaultThrottleWindow is the minimum gap between limited queue entries.
const DefaultThrottleWindow = 10 * time.Minute

// Throttle rate-limits ALLOW_LIMITED users through
// protection.lastQueueAt. It never touches expiresAt.
type Throttle struct {
	Window time.Duration
}

func (th Throttle) window() time.Duration {
	if th.Window <= 0 {
		return DefaultThrottleWindow
	}
	return th.Window
}

// Check decides a limited attempt. admittedAt is the admission stamp the
// queue entry already carries (zero if none): an attempt backed by the
// still-current admission passes without a new stamp.
func (th Throttle) Check(ent entitlement.Record, admittedAt, now time.Time) (allowed, stamp bool) {
	last := ent.Protection.LastQueueAt
	if !admittedAt.IsZero() && !last.IsZero() && last.Equal(admittedAt) {
		return true, false
	}
	if !last.IsZero() && now.Sub(last) < th.window() {
		return false, false
	}
	return true, true
}

// Stamp records a successful limited queue entry.
func Stamp(tx docstore.Tx, uid string, now time.Time) error {
	return tx.Merge(entitlement.Path(uid), map[string]any{
		"protection": map[string]any{"lastQueueAt": now},
	})
}

// Apply reads the entitlement, and when the window has passed stamps
// lastQueueAt = now. Nothing is written on rejection. It reads, so it must
// run before any write in tx.
func (th Throttle) Apply(tx docstore.Tx, uid string, now time.Time) (bool, error) {
	d, err := tx.Get(entitlement.Path(uid))
	if err != nil {
		return false, fmt.Errorf("gate: read entitlement %s: %w", uid, err)
	}
	allowed, stamp := th.Check(entitlement.Parse(uid, d.Data), time.Time{}, now)
	if !allowed {
		return false, nil
	}
	if stamp {
		if err := Stamp(tx, uid, now); err != nil {
			return false, err
		}
	}
	return true, nil
}
