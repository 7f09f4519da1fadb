// Package memstore is an in-memory docstore.Store.
//
// Transactions are fully serialized (one at a time), which is a stricter
// isolation than Firestore's optimistic concurrency and therefore a safe
// stand-in for tests. It enforces the same read-before-write rule.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

type entry struct {
	data    map[string]any
	updated time.Time
}

// Store keeps documents keyed by full path.
type Store struct {
	mu   sync.Mutex
	docs map[string]*entry
	now  func() time.Time
}

var _ docstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the commit clock used for ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]*entry),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !docstore.ValidDocPath(path) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(path), nil
}

func (s *Store) snapshot(path string) *docstore.Doc {
	path = strings.Trim(path, "/")
	_, id := docstore.SplitPath(path)
	e, ok := s.docs[path]
	if !ok {
		return &docstore.Doc{Path: path, ID: id}
	}
	return &docstore.Doc{
		Path:       path,
		ID:         id,
		Exists:     true,
		Data:       copyMap(e.data),
		UpdateTime: e.updated,
	}
}

func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	return s.Batch(ctx, []docstore.Write{{Kind: docstore.WriteSet, Path: path, Data: data}})
}

func (s *Store) Merge(ctx context.Context, path string, data map[string]any) error {
	return s.Batch(ctx, []docstore.Write{{Kind: docstore.WriteMerge, Path: path, Data: data}})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Batch(ctx, []docstore.Write{{Kind: docstore.WriteDelete, Path: path}})
}

func (s *Store) Batch(ctx context.Context, writes []docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, w := range writes {
		if !docstore.ValidDocPath(w.Path) {
			return fmt.Errorf("%w: %q", docstore.ErrInvalidPath, w.Path)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(writes)
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, creates: map[string]bool{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(tx.writes)
	return nil
}

// apply commits writes; callers hold s.mu.
func (s *Store) apply(writes []docstore.Write) {
	now := s.now().UTC()
	for _, w := range writes {
		path := strings.Trim(w.Path, "/")
		switch w.Kind {
		case docstore.WriteDelete:
			delete(s.docs, path)
		case docstore.WriteSet:
			s.docs[path] = &entry{data: resolve(w.Data, now), updated: now}
		case docstore.WriteMerge:
			e, ok := s.docs[path]
			if !ok {
				e = &entry{data: map[string]any{}}
				s.docs[path] = e
			}
			mergeInto(e.data, w.Data, now)
			e.updated = now
		}
	}
}

type memTx struct {
	store   *Store
	writes  []docstore.Write
	creates map[string]bool
}

func (t *memTx) Get(path string) (*docstore.Doc, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	if !docstore.ValidDocPath(path) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return t.store.snapshot(path), nil
}

func (t *memTx) Query(q docstore.Query) ([]*docstore.Doc, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	return t.store.query(q), nil
}

func (t *memTx) Create(path string, data map[string]any) error {
	if !docstore.ValidDocPath(path) {
		return fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	path = strings.Trim(path, "/")
	if _, ok := t.store.docs[path]; ok || t.creates[path] {
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, path)
	}
	t.creates[path] = true
	t.writes = append(t.writes, docstore.Write{Kind: docstore.WriteSet, Path: path, Data: data})
	return nil
}

func (t *memTx) Set(path string, data map[string]any) error {
	return t.add(docstore.WriteSet, path, data)
}

func (t *memTx) Merge(path string, data map[string]any) error {
	return t.add(docstore.WriteMerge, path, data)
}

func (t *memTx) Delete(path string) error {
	return t.add(docstore.WriteDelete, path, nil)
}

func (t *memTx) add(kind docstore.WriteKind, path string, data map[string]any) error {
	if !docstore.ValidDocPath(path) {
		return fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	t.writes = append(t.writes, docstore.Write{Kind: kind, Path: path, Data: data})
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(q), nil
}

// query runs q against committed state; callers hold s.mu.
func (s *Store) query(q docstore.Query) []*docstore.Doc {
	coll := strings.Trim(q.Collection, "/")

	var out []*docstore.Doc
	for path := range s.docs {
		c, id := docstore.SplitPath(path)
		if c != coll {
			continue
		}
		if q.IDStart != "" && id < q.IDStart {
			continue
		}
		if q.IDEnd != "" && id >= q.IDEnd {
			continue
		}
		d := s.snapshot(path)
		if !matches(d, q.Filters) {
			continue
		}
		out = append(out, d)
	}

	less := func(a, b *docstore.Doc) bool {
		if q.OrderBy != "" {
			c, ok := compare(docstore.Lookup(a.Data, q.OrderBy), docstore.Lookup(b.Data, q.OrderBy))
			if ok && c != 0 {
				return c < 0
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Direction == docstore.Desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})

	if q.StartAfterID != "" {
		for i, d := range out {
			if d.ID == q.StartAfterID {
				out = out[i+1:]
				break
			}
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(d *docstore.Doc, filters []docstore.Filter) bool {
	for _, f := range filters {
		v := docstore.Lookup(d.Data, f.Field)
		switch f.Op {
		case docstore.OpIn:
			if !inList(v, f.Value) {
				return false
			}
		default:
			c, ok := compare(v, f.Value)
			if !ok {
				return false
			}
			switch f.Op {
			case docstore.OpEq:
				if c != 0 {
					return false
				}
			case docstore.OpLt:
				if c >= 0 {
					return false
				}
			case docstore.OpLte:
				if c > 0 {
					return false
				}
			case docstore.OpGt:
				if c <= 0 {
					return false
				}
			case docstore.OpGte:
				if c < 0 {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

func inList(v any, list any) bool {
	switch l := list.(type) {
	case []string:
		for _, x := range l {
			if c, ok := compare(v, x); ok && c == 0 {
				return true
			}
		}
	case []any:
		for _, x := range l {
			if c, ok := compare(v, x); ok && c == 0 {
				return true
			}
		}
	}
	return false
}

// compare orders values of the same kind; ok is false across kinds.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if ba == bb {
			return 0, true
		}
		if !ba {
			return -1, true
		}
		return 1, true
	}
	fa, okA := docstore.AsFloat(a)
	fb, okB := docstore.AsFloat(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	}
	return 0, true
}

func mergeInto(dst, src map[string]any, now time.Time) {
	for k, v := range src {
		switch {
		case docstore.IsDelete(v):
			delete(dst, k)
		case docstore.IsServerTimestamp(v):
			dst[k] = now
		default:
			if sm, ok := v.(map[string]any); ok {
				dm, ok := dst[k].(map[string]any)
				if !ok {
					dm = map[string]any{}
					dst[k] = dm
				}
				mergeInto(dm, sm, now)
				continue
			}
			dst[k] = copyValue(v)
		}
	}
}

func resolve(src map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(src))
	mergeInto(out, src, now)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	default:
		return v
	}
}
