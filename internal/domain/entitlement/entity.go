// internal/domain/entitlement/entity.go
package entitlement

import (
	"errors"
	"strings"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

const Collection = "user_entitlements"

// Purchase sources.
const (
	SourceGooglePlay = "google_play"
	SourceTest       = "test"
)

var (
	ErrInvalidTier   = errors.New("entitlement: invalid tier")
	ErrInvalidSource = errors.New("entitlement: invalid source")
	ErrInvalidOrder  = errors.New("entitlement: invalid orderId")
	ErrInvalidExpiry = errors.New("entitlement: expiresAt must be in the future")
)

// MaxTierLength bounds the free-form tier label.
var MaxTierLength = 32

// Protection is a purchased, time-boxed allowance to keep matching while
// moderated. LastQueueAt is only the limited-mode throttle stamp.
type Protection struct {
	Active         bool
	Tier           string
	StartedAt      time.Time
	ExpiresAt      time.Time
	Source         string
	OrderID        string
	LastVerifiedAt time.Time
	LastQueueAt    time.Time
}

// Ban is an administrative override that voids protection.
type Ban struct {
	Active bool
	Reason string
	Until  time.Time // zero means open-ended
}

// Record is user_entitlements/{uid}.
type Record struct {
	UID        string
	Protection Protection
	Ban        Ban
}

func Path(uid string) string {
	return docstore.Path(Collection, uid)
}

func Parse(uid string, data map[string]any) Record {
	r := Record{UID: uid}
	if data == nil {
		return r
	}
	if m, ok := docstore.AsMap(data["protection"]); ok {
		p := &r.Protection
		p.Active, _ = docstore.AsBool(m["active"])
		p.Tier = docstore.AsString(m["tier"])
		p.StartedAt, _ = docstore.AsTime(m["startedAt"])
		p.ExpiresAt, _ = docstore.AsTime(m["expiresAt"])
		p.Source = docstore.AsString(m["source"])
		p.OrderID = docstore.AsString(m["orderId"])
		p.LastVerifiedAt, _ = docstore.AsTime(m["lastVerifiedAt"])
		p.LastQueueAt, _ = docstore.AsTime(m["lastQueueAt"])
	}
	if m, ok := docstore.AsMap(data["protectionBan"]); ok {
		r.Ban.Active, _ = docstore.AsBool(m["active"])
		r.Ban.Reason = docstore.AsString(m["reason"])
		r.Ban.Until, _ = docstore.AsTime(m["until"])
	}
	return r
}

// Effective reports whether the ban applies at now.
func (b Ban) Effective(now time.Time) bool {
	return b.Active && (b.Until.IsZero() || b.Until.After(now))
}

// ProtectionValid: active, unexpired and not voided by a ban.
func (r Record) ProtectionValid(now time.Time) bool {
	p := r.Protection
	return p.Active && p.ExpiresAt.After(now) && !r.Ban.Effective(now)
}

func ValidateTier(tier string) error {
	tier = strings.TrimSpace(tier)
	if tier == "" || len(tier) > MaxTierLength {
		return ErrInvalidTier
	}
	return nil
}

func ValidateSource(source string) error {
	switch source {
	case SourceGooglePlay, SourceTest:
		return nil
	}
	return ErrInvalidSource
}
