// internal/adapters/out/firestore/store_fs.go
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

// ============================================================
// StoreFS
// - implements docstore.Store on top of *firestore.Client
// - paths are slash separated ("users/u1/devices/d1")
// ============================================================

var ErrStoreNotConfigured = errors.New("store_fs: firestore client is nil")

// batchLimit stays under Firestore's 500 writes per commit.
const batchLimit = 400

type StoreFS struct {
	Client *firestore.Client
}

var _ docstore.Store = (*StoreFS)(nil)

func NewStoreFS(client *firestore.Client) *StoreFS {
	return &StoreFS{Client: client}
}

func (s *StoreFS) ref(path string) (*firestore.DocumentRef, error) {
	if s == nil || s.Client == nil {
		return nil, ErrStoreNotConfigured
	}
	p := strings.Trim(path, "/")
	if !docstore.ValidDocPath(p) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	ref := s.Client.Doc(p)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return ref, nil
}

func (s *StoreFS) NewID() string {
	if s == nil || s.Client == nil {
		return ""
	}
	return s.Client.Collection("_ids").NewDoc().ID
}

func (s *StoreFS) Get(ctx context.Context, path string) (*docstore.Doc, error) {
	ref, err := s.ref(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	return toDoc(ref, snap, err)
}

func (s *StoreFS) Set(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, toFirestore(data, false))
	return mapErr(err)
}

func (s *StoreFS) Merge(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, toFirestore(data, true), firestore.MergeAll)
	return mapErr(err)
}

func (s *StoreFS) Delete(ctx context.Context, path string) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return mapErr(err)
}

// Batch commits writes in chunks; chunks are not atomic with each other.
func (s *StoreFS) Batch(ctx context.Context, writes []docstore.Write) error {
	if s == nil || s.Client == nil {
		return ErrStoreNotConfigured
	}
	batch := s.Client.Batch()
	count := 0
	for _, w := range writes {
		ref, err := s.ref(w.Path)
		if err != nil {
			return err
		}
		switch w.Kind {
		case docstore.WriteDelete:
			batch.Delete(ref)
		case docstore.WriteMerge:
			batch.Set(ref, toFirestore(w.Data, true), firestore.MergeAll)
		default:
			batch.Set(ref, toFirestore(w.Data, false))
		}
		count++
		if count%batchLimit == 0 {
			if _, err := batch.Commit(ctx); err != nil {
				return mapErr(err)
			}
			batch = s.Client.Batch()
		}
	}
	if count%batchLimit != 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *StoreFS) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if s == nil || s.Client == nil {
		return ErrStoreNotConfigured
	}
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &txFS{ctx: ctx, store: s, tx: tx})
	})
	return mapErr(err)
}

func (s *StoreFS) Query(ctx context.Context, q docstore.Query) ([]*docstore.Doc, error) {
	query, err := s.buildQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return collect(query.Documents(ctx))
}

func (s *StoreFS) buildQuery(ctx context.Context, q docstore.Query) (firestore.Query, error) {
	if s == nil || s.Client == nil {
		return firestore.Query{}, ErrStoreNotConfigured
	}
	col := s.Client.Collection(strings.Trim(q.Collection, "/"))
	if col == nil {
		return firestore.Query{}, fmt.Errorf("%w: collection %q", docstore.ErrInvalidPath, q.Collection)
	}

	query := col.Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, string(f.Op), toFirestoreValue(f.Value, false))
	}

	dir := firestore.Asc
	if q.Direction == docstore.Desc {
		dir = firestore.Desc
	}

	byID := q.OrderBy == "" && (q.IDStart != "" || q.IDEnd != "" || q.StartAfterID != "")
	switch {
	case q.OrderBy != "":
		query = query.OrderBy(q.OrderBy, dir).OrderBy(firestore.DocumentID, dir)
	case byID:
		query = query.OrderBy(firestore.DocumentID, dir)
	}

	if byID {
		if q.IDStart != "" {
			query = query.StartAt(q.IDStart)
		}
		if q.IDEnd != "" {
			query = query.EndBefore(q.IDEnd)
		}
	}

	if q.StartAfterID != "" {
		if byID {
			query = query.StartAfter(q.StartAfterID)
		} else {
			cursor, err := col.Doc(q.StartAfterID).Get(ctx)
			if err != nil && status.Code(err) != codes.NotFound {
				return firestore.Query{}, mapErr(err)
			}
			if cursor != nil && cursor.Exists() {
				query = query.StartAfter(cursor)
			}
		}
	}

	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query, nil
}

func collect(it *firestore.DocumentIterator) ([]*docstore.Doc, error) {
	defer it.Stop()

	out := make([]*docstore.Doc, 0, 16)
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapErr(err)
		}
		if snap == nil || snap.Ref == nil {
			continue
		}
		d, err := toDoc(snap.Ref, snap, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ============================================================
// txFS
// ============================================================

type txFS struct {
	ctx   context.Context
	store *StoreFS
	tx    *firestore.Transaction
	wrote bool
}

func (t *txFS) Get(path string) (*docstore.Doc, error) {
	if t.wrote {
		return nil, docstore.ErrReadAfterWrite
	}
	ref, err := t.store.ref(path)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(ref)
	return toDoc(ref, snap, err)
}

func (t *txFS) Query(q docstore.Query) ([]*docstore.Doc, error) {
	if t.wrote {
		return nil, docstore.ErrReadAfterWrite
	}
	query, err := t.store.buildQuery(t.ctx, q)
	if err != nil {
		return nil, err
	}
	return collect(t.tx.Documents(query))
}

func (t *txFS) Create(path string, data map[string]any) error {
	ref, err := t.store.ref(path)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Create(ref, toFirestore(data, false))
}

func (t *txFS) Set(path string, data map[string]any) error {
	ref, err := t.store.ref(path)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Set(ref, toFirestore(data, false))
}

func (t *txFS) Merge(path string, data map[string]any) error {
	ref, err := t.store.ref(path)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Set(ref, toFirestore(data, true), firestore.MergeAll)
}

func (t *txFS) Delete(path string) error {
	ref, err := t.store.ref(path)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Delete(ref)
}

// ============================================================
// Mapping helpers
// ============================================================

func toDoc(ref *firestore.DocumentRef, snap *firestore.DocumentSnapshot, err error) (*docstore.Doc, error) {
	d := &docstore.Doc{Path: refPath(ref), ID: ref.ID}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return d, nil
		}
		return nil, mapErr(err)
	}
	if snap == nil || !snap.Exists() {
		return d, nil
	}
	d.Exists = true
	d.Data = fromFirestoreMap(snap.Data())
	d.UpdateTime = snap.UpdateTime.UTC()
	return d, nil
}

// refPath trims the "projects/<p>/databases/<db>/documents/" prefix.
func refPath(ref *firestore.DocumentRef) string {
	p := ref.Path
	if i := strings.Index(p, "/documents/"); i >= 0 {
		return p[i+len("/documents/"):]
	}
	return p
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", docstore.ErrAlreadyExists, err)
	case codes.NotFound:
		return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
	}
	return err
}

// toFirestore swaps docstore sentinels for Firestore's. Delete is only
// meaningful in merge writes and is dropped otherwise.
func toFirestore(data map[string]any, merge bool) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if docstore.IsDelete(v) && !merge {
			continue
		}
		out[k] = toFirestoreValue(v, merge)
	}
	return out
}

func toFirestoreValue(v any, merge bool) any {
	switch {
	case docstore.IsDelete(v):
		return firestore.Delete
	case docstore.IsServerTimestamp(v):
		return firestore.ServerTimestamp
	}
	switch t := v.(type) {
	case map[string]any:
		return toFirestore(t, merge)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = toFirestoreValue(x, false)
		}
		return out
	default:
		return v
	}
}

type geoPoint interface {
	GetLatitude() float64
	GetLongitude() float64
}

func fromFirestoreMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromFirestoreValue(v)
	}
	return out
}

// fromFirestoreValue normalizes GeoPoints to {latitude, longitude} maps so
// parsers see a single location shape.
func fromFirestoreValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return fromFirestoreMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = fromFirestoreValue(x)
		}
		return out
	case geoPoint:
		return map[string]any{"latitude": t.GetLatitude(), "longitude": t.GetLongitude()}
	default:
		return v
	}
}
