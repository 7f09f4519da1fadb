// Package oplock makes side effects of at-least-once triggers run once.
//
// A lock is a document at <parent>/_ops/{opKey} created in the same
// transaction as the effect it guards. Because transactions must finish all
// reads before writing, Check is split from Claim; Check must be the last
// read a transaction performs.
package oplock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

const Collection = "_ops"

// maxIDLength keeps lock ids well below Firestore's document id limit.
const maxIDLength = 200

var ErrAlreadyClaimed = errors.New("oplock: lock already claimed")

// Lock is the read half of an acquisition.
type Lock struct {
	path  string
	opKey string
	held  bool
}

// Check reads the lock document for opKey under parentPath.
func Check(tx docstore.Tx, parentPath, opKey string) (*Lock, error) {
	p := docstore.Path(strings.Trim(parentPath, "/"), Collection, DocID(opKey))
	d, err := tx.Get(p)
	if err != nil {
		return nil, fmt.Errorf("oplock: read %s: %w", p, err)
	}
	return &Lock{path: p, opKey: opKey, held: d.Exists}, nil
}

// Held reports whether the operation already ran.
func (l *Lock) Held() bool { return l != nil && l.held }

func (l *Lock) Path() string { return l.path }

// Claim writes the marker. The caller's transaction makes it atomic with
// the guarded mutation.
func (l *Lock) Claim(tx docstore.Tx, writer string) error {
	if l.held {
		return ErrAlreadyClaimed
	}
	return tx.Create(l.path, map[string]any{
		"opKey":     l.opKey,
		"writer":    writer,
		"createdAt": docstore.ServerTimestamp,
	})
}

// Acquire checks and claims in one step. It returns false when the
// operation already ran. No reads may follow it in the transaction.
func Acquire(tx docstore.Tx, parentPath, opKey, writer string) (bool, error) {
	l, err := Check(tx, parentPath, opKey)
	if err != nil {
		return false, err
	}
	if l.Held() {
		return false, nil
	}
	if err := l.Claim(tx, writer); err != nil {
		return false, err
	}
	return true, nil
}

// DocID maps an opKey onto a valid document id. Long keys or keys with
// path separators are hashed.
func DocID(opKey string) string {
	if len(opKey) <= maxIDLength && !strings.ContainsAny(opKey, "/") && !strings.HasPrefix(opKey, "__") {
		return opKey
	}
	sum := sha256.Sum256([]byte(opKey))
	return "h_" + hex.EncodeToString(sum[:])
}

// MinuteKey is the UTC minute bucket used by the sweepers.
func MinuteKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}

// Canonical serializes v with map keys sorted at every depth. Times are
// rendered as RFC3339Nano in UTC.
func Canonical(v any) string {
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// StableHash is the sha256 of Canonical(v).
func StableHash(v any) string {
	sum := sha256.Sum256([]byte(Canonical(v)))
	return hex.EncodeToString(sum[:])
}

// FieldsHash hashes only the named top-level fields of data; absent and
// nil fields hash the same.
func FieldsHash(data map[string]any, fields ...string) string {
	picked := make(map[string]any, len(fields))
	for _, f := range fields {
		if v := docstore.Lookup(data, f); v != nil {
			picked[f] = v
		}
	}
	return StableHash(picked)
}

// Changed reports whether any of fields differs between before and after.
func Changed(before, after map[string]any, fields ...string) bool {
	return FieldsHash(before, fields...) != FieldsHash(after, fields...)
}

// canonical form: ordered key/value pairs so encoding is independent of
// map iteration.
type pair struct {
	K string `json:"k"`
	V any    `json:"v"`
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]pair, 0, len(keys))
		for _, k := range keys {
			out = append(out, pair{K: k, V: canonicalize(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = canonicalize(x)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
