// internal/domain/moderation/entity.go
package moderation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

const Collection = "user_moderation"

// Level thresholds on total report count.
const (
	LimitedThreshold = 3
	BlockedThreshold = 6
)

type Level int

const (
	LevelNone    Level = 0
	LevelLimited Level = 1
	LevelBlocked Level = 2
)

var ErrInvalidLevel = errors.New("moderation: level must be 0, 1 or 2")

func ParseLevel(n int64) (Level, error) {
	if n < 0 || n > 2 {
		return 0, ErrInvalidLevel
	}
	return Level(n), nil
}

// LevelForReports derives the level from a total report count.
func LevelForReports(total int64) Level {
	switch {
	case total >= BlockedThreshold:
		return LevelBlocked
	case total >= LimitedThreshold:
		return LevelLimited
	default:
		return LevelNone
	}
}

// HardFlags are administrative markers; severe, sexual and violence
// disqualify a user from limited matching.
type HardFlags struct {
	Severe   bool `json:"severe"`
	Spam     bool `json:"spam"`
	Sexual   bool `json:"sexual"`
	Violence bool `json:"violence"`
}

func (f HardFlags) Disqualifying() bool {
	return f.Severe || f.Sexual || f.Violence
}

func (f HardFlags) Map() map[string]any {
	return map[string]any{
		"severe":   f.Severe,
		"spam":     f.Spam,
		"sexual":   f.Sexual,
		"violence": f.Violence,
	}
}

// Record is user_moderation/{uid}.
type Record struct {
	UID                string
	TotalReports       int64
	ReasonCounts       map[string]int64
	Level              Level
	ProtectionEligible bool
	HardFlags          HardFlags
}

func Path(uid string) string {
	return docstore.Path(Collection, uid)
}

// Parse never fails; malformed fields read as their zero value and an
// out-of-range level is clamped.
func Parse(uid string, data map[string]any) Record {
	r := Record{UID: uid, ReasonCounts: map[string]int64{}}
	if data == nil {
		return r
	}
	r.TotalReports, _ = docstore.AsInt(data["totalReports"])
	if lv, ok := docstore.AsInt(data["level"]); ok {
		switch {
		case lv >= 2:
			r.Level = LevelBlocked
		case lv == 1:
			r.Level = LevelLimited
		}
	}
	r.ProtectionEligible, _ = docstore.AsBool(data["protectionEligible"])
	if m, ok := docstore.AsMap(data["reasonCounts"]); ok {
		for k, v := range m {
			if n, ok := docstore.AsInt(v); ok {
				r.ReasonCounts[k] = n
			}
		}
	}
	if m, ok := docstore.AsMap(data["hardFlags"]); ok {
		r.HardFlags.Severe, _ = docstore.AsBool(m["severe"])
		r.HardFlags.Spam, _ = docstore.AsBool(m["spam"])
		r.HardFlags.Sexual, _ = docstore.AsBool(m["sexual"])
		r.HardFlags.Violence, _ = docstore.AsBool(m["violence"])
	}
	return r
}

var unsafeKeyChars = regexp.MustCompile(`[./#\[\]$]`)

// ReasonKey turns a free-form report reason into a safe map key.
func ReasonKey(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "Unknown"
	}
	return unsafeKeyChars.ReplaceAllString(reason, "_")
}
