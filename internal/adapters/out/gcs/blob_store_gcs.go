// internal/adapters/out/gcs/blob_store_gcs.go
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/ehgus2390/chineseapp/internal/application/sweeper"
)

// =====================================================
// GCS-backed user upload storage
// =====================================================

type BlobStoreGCS struct {
	Client *storage.Client
	Bucket string
}

func NewBlobStoreGCS(client *storage.Client, bucket string) *BlobStoreGCS {
	return &BlobStoreGCS{Client: client, Bucket: strings.TrimSpace(bucket)}
}

var _ sweeper.BlobStore = (*BlobStoreGCS)(nil)

func (r *BlobStoreGCS) bucket() (*storage.BucketHandle, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("gcs: client is nil")
	}
	if r.Bucket == "" {
		return nil, errors.New("gcs: bucket is empty")
	}
	return r.Client.Bucket(r.Bucket), nil
}

// DeletePrefix removes every object under prefix and returns how many were
// deleted. Objects already gone are not errors.
func (r *BlobStoreGCS) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix == "" || !strings.HasSuffix(prefix, "/") {
		return 0, fmt.Errorf("gcs: refusing to delete unscoped prefix %q", prefix)
	}
	b, err := r.bucket()
	if err != nil {
		return 0, err
	}

	it := b.Objects(ctx, &storage.Query{Prefix: prefix})
	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("gcs: list %s: %w", prefix, err)
		}
		if err := b.Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				continue
			}
			return deleted, fmt.Errorf("gcs: delete %s: %w", attrs.Name, err)
		}
		deleted++
	}
	return deleted, nil
}
