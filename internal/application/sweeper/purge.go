package sweeper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/notification"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
)

// Directory is the identity provider's user list.
type Directory interface {
	// ListUsers returns one page of uids and the next page token ("" when
	// there are no more pages).
	ListUsers(ctx context.Context, pageToken string, pageSize int) ([]string, string, error)
	DeleteUser(ctx context.Context, uid string) error
}

// BlobStore deletes user uploads.
type BlobStore interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

var ErrDirectoryNotConfigured = errors.New("sweeper: identity directory not configured")

const directoryPageSize = 500

// Purger removes accounts whose deletion was requested longer than
// PurgeGrace ago.
type Purger struct {
	*Sweeper
	Directory Directory
	Blobs     BlobStore
}

// Purge walks the directory and erases every due account. Failures on one
// account are logged and the walk continues; the account is retried on the
// next run because its profile is removed last.
func (p *Purger) Purge(ctx context.Context) (res Result, err error) {
	defer func() { p.finish("purge", res, err) }()

	if p.Directory == nil {
		return res, ErrDirectoryNotConfigured
	}
	now := p.now()
	token := ""
	for page := 0; page < p.cfg.MaxPages; page++ {
		uids, next, err := p.Directory.ListUsers(ctx, token, directoryPageSize)
		if err != nil {
			return res, fmt.Errorf("sweeper: list users: %w", err)
		}
		for _, uid := range uids {
			res.Scanned++
			pd, err := p.store.Get(ctx, profile.Path(uid))
			if err != nil {
				p.log.Warn("purge: read profile failed", zap.String("uid", uid), zap.Error(err))
				res.Failed++
				continue
			}
			if !pd.Exists {
				res.Skipped++
				continue
			}
			prof, err := profile.Parse(uid, pd.Data)
			if err != nil || prof.DeletionRequestedAt.IsZero() || now.Sub(prof.DeletionRequestedAt) < p.cfg.PurgeGrace {
				res.Skipped++
				continue
			}
			if err := p.PurgeUser(ctx, uid); err != nil {
				p.log.Error("purge failed", zap.String("uid", uid), zap.Error(err))
				res.Failed++
				continue
			}
			res.Changed++
		}
		if next == "" {
			return res, nil
		}
		token = next
	}
	return res, nil
}

// PurgeUser deletes everything stored for uid.
func (p *Purger) PurgeUser(ctx context.Context, uid string) error {
	if p.Directory == nil {
		return ErrDirectoryNotConfigured
	}
	if p.Blobs != nil {
		n, err := p.Blobs.DeletePrefix(ctx, "users/"+uid+"/")
		if err != nil {
			return fmt.Errorf("delete uploads: %w", err)
		}
		p.log.Debug("uploads deleted", zap.String("uid", uid), zap.Int("objects", n))
	}

	var writes []docstore.Write
	for _, col := range []string{profile.DevicesPath(uid), docstore.Path(profile.UsersCollection, uid, notification.Collection)} {
		docs, err := p.store.Query(ctx, docstore.Query{Collection: col})
		if err != nil {
			return fmt.Errorf("list %s: %w", col, err)
		}
		for _, d := range docs {
			writes = append(writes, docstore.Write{Kind: docstore.WriteDelete, Path: d.Path})
		}
	}
	writes = append(writes, docstore.Write{Kind: docstore.WriteDelete, Path: match.QueuePath(uid)})
	if err := p.store.Batch(ctx, writes); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}

	if err := p.Directory.DeleteUser(ctx, uid); err != nil {
		return fmt.Errorf("delete auth user: %w", err)
	}
	if err := p.store.Delete(ctx, profile.Path(uid)); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	p.log.Info("account purged", zap.String("uid", uid), zap.Int("documents", len(writes)+1))
	return nil
}
