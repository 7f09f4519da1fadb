package identity

import (
	"context"
	"errors"
	"fmt"

	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"

	"github.com/ehgus2390/chineseapp/internal/application/sweeper"
)

// FirebaseDirectory lists and deletes Firebase Auth users.
type FirebaseDirectory struct {
	Auth *fbauth.Client
}

func NewFirebaseDirectory(client *fbauth.Client) *FirebaseDirectory {
	return &FirebaseDirectory{Auth: client}
}

var _ sweeper.Directory = (*FirebaseDirectory)(nil)

func (d *FirebaseDirectory) ListUsers(ctx context.Context, pageToken string, pageSize int) ([]string, string, error) {
	if d == nil || d.Auth == nil {
		return nil, "", sweeper.ErrDirectoryNotConfigured
	}
	pager := iterator.NewPager(d.Auth.Users(ctx, pageToken), pageSize, pageToken)
	var users []*fbauth.ExportedUserRecord
	next, err := pager.NextPage(&users)
	if err != nil {
		return nil, "", fmt.Errorf("identity: list users: %w", err)
	}
	uids := make([]string, 0, len(users))
	for _, u := range users {
		if u != nil && u.UserRecord != nil && u.UID != "" {
			uids = append(uids, u.UID)
		}
	}
	return uids, next, nil
}

// DeleteUser treats an already-deleted user as success.
func (d *FirebaseDirectory) DeleteUser(ctx context.Context, uid string) error {
	if d == nil || d.Auth == nil {
		return sweeper.ErrDirectoryNotConfigured
	}
	if uid == "" {
		return errors.New("identity: uid is empty")
	}
	if err := d.Auth.DeleteUser(ctx, uid); err != nil && !fbauth.IsUserNotFound(err) {
		return fmt.Errorf("identity: delete %s: %w", uid, err)
	}
	return nil
}
