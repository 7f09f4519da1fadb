// Package docstoretest has fixtures shared by handler tests.
package docstoretest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

// Seed writes data at path.
func Seed(t testing.TB, s docstore.Store, path string, data map[string]any) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), path, data))
}

// Read returns the document at path.
func Read(t testing.TB, s docstore.Store, path string) *docstore.Doc {
	t.Helper()
	d, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	return d
}

// Write applies a merge and returns the resulting trigger delivery.
func Write(t testing.TB, s docstore.Store, path string, data map[string]any) docstore.Change {
	t.Helper()
	before := Read(t, s, path)
	require.NoError(t, s.Merge(context.Background(), path, data))
	return docstore.Change{EventID: path, Path: path, Before: before, After: Read(t, s, path)}
}

// Replace applies a full set and returns the resulting trigger delivery.
func Replace(t testing.TB, s docstore.Store, path string, data map[string]any) docstore.Change {
	t.Helper()
	before := Read(t, s, path)
	require.NoError(t, s.Set(context.Background(), path, data))
	return docstore.Change{EventID: path, Path: path, Before: before, After: Read(t, s, path)}
}

// Remove deletes path and returns the resulting trigger delivery.
func Remove(t testing.TB, s docstore.Store, path string) docstore.Change {
	t.Helper()
	before := Read(t, s, path)
	require.NoError(t, s.Delete(context.Background(), path))
	return docstore.Change{EventID: path, Path: path, Before: before, After: Read(t, s, path)}
}

// Count returns the number of documents directly under collection.
func Count(t testing.TB, s docstore.Store, collection string) int {
	t.Helper()
	docs, err := s.Query(context.Background(), docstore.Query{Collection: collection})
	require.NoError(t, err)
	return len(docs)
}
