// Package docstore is the persistence port every handler talks to.
//
// It models the document store as a transactional key-value store with
// collection/document addressing ("users/u1/devices/d1"), range queries and
// optimistic multi-document transactions. The Firestore adapter lives in
// internal/adapters/out/firestore; internal/docstore/memstore is an
// in-memory implementation used by tests and local runs.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("docstore: document not found")
	ErrAlreadyExists  = errors.New("docstore: document already exists")
	ErrReadAfterWrite = errors.New("docstore: read after write in transaction")
	ErrInvalidPath    = errors.New("docstore: invalid document path")
)

// sentinel is a marker value understood by Merge/Set writes.
type sentinel struct{ name string }

func (s sentinel) String() string { return s.name }

var (
	// Delete removes the field it is assigned to in a Merge write.
	Delete any = sentinel{name: "Delete"}
	// ServerTimestamp is replaced by the store's commit time.
	ServerTimestamp any = sentinel{name: "ServerTimestamp"}
)

// IsDelete reports whether v is the Delete sentinel.
func IsDelete(v any) bool { return v == Delete }

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool { return v == ServerTimestamp }

// Doc is a read snapshot. Exists is false for missing documents; Data is
// then nil.
type Doc struct {
	Path       string
	ID         string
	Exists     bool
	Data       map[string]any
	UpdateTime time.Time
}

// Field returns the top-level field value, nil when absent.
func (d *Doc) Field(name string) any {
	if d == nil || d.Data == nil {
		return nil
	}
	return d.Data[name]
}

// Tx is a single read-validate-write transaction. All reads must happen
// before the first write.
type Tx interface {
	Get(path string) (*Doc, error)
	Query(q Query) ([]*Doc, error)
	Create(path string, data map[string]any) error
	Set(path string, data map[string]any) error
	Merge(path string, data map[string]any) error
	Delete(path string) error
}

// Store is the non-transactional surface plus the transaction runner.
type Store interface {
	Get(ctx context.Context, path string) (*Doc, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Query(ctx context.Context, q Query) ([]*Doc, error)
	Set(ctx context.Context, path string, data map[string]any) error
	Merge(ctx context.Context, path string, data map[string]any) error
	Delete(ctx context.Context, path string) error
	Batch(ctx context.Context, writes []Write) error
	NewID() string
}

// WriteKind selects the operation of a batched Write.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteMerge
	WriteDelete
)

// Write is one element of a Batch.
type Write struct {
	Kind WriteKind
	Path string
	Data map[string]any
}

// Change is one trigger delivery: the document state before and after a
// write. Before.Exists is false for creations, After.Exists false for
// deletions.
type Change struct {
	EventID string
	Path    string
	Before  *Doc
	After   *Doc
}

// ID returns the last path segment of the changed document.
func (c Change) ID() string {
	_, id := SplitPath(c.Path)
	return id
}

// Created reports whether the change created the document.
func (c Change) Created() bool {
	return (c.Before == nil || !c.Before.Exists) && c.After != nil && c.After.Exists
}

// Deleted reports whether the change removed the document.
func (c Change) Deleted() bool {
	return c.After == nil || !c.After.Exists
}

// Path joins path segments with "/".
func Path(parts ...string) string {
	return strings.Join(parts, "/")
}

// SplitPath splits a document path into its collection path and id.
func SplitPath(p string) (collection string, id string) {
	p = strings.Trim(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// ValidDocPath reports whether p addresses a document (even segment count).
func ValidDocPath(p string) bool {
	p = strings.Trim(p, "/")
	if p == "" {
		return false
	}
	segs := strings.Split(p, "/")
	if len(segs)%2 != 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}
