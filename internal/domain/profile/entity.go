// internal/domain/profile/entity.go
package profile

import (
	"errors"
	"strings"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
)

const (
	UsersCollection   = "users"
	DevicesCollection = "devices"
)

var ErrInvalidUID = errors.New("profile: invalid uid")

// Profile is the subset of users/{uid} the matchmaking core reads.
type Profile struct {
	UID                  string
	Interests            []string
	Location             match.Location
	HasLocation          bool
	DistanceKm           float64
	NotificationsEnabled bool
	DeletionRequestedAt  time.Time
}

func Path(uid string) string {
	return docstore.Path(UsersCollection, uid)
}

func DevicesPath(uid string) string {
	return docstore.Path(UsersCollection, uid, DevicesCollection)
}

// Parse reads a user document. Missing notificationsEnabled means enabled.
func Parse(uid string, data map[string]any) (Profile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Profile{}, ErrInvalidUID
	}
	p := Profile{UID: uid, NotificationsEnabled: true}
	if data == nil {
		return p, nil
	}
	if list, ok := docstore.AsStrings(data["interests"]); ok {
		p.Interests = list
	}
	if loc, ok := match.ParseLocation(data["location"]); ok {
		p.Location = loc
		p.HasLocation = true
	}
	if d, ok := docstore.AsFloat(data["distanceKm"]); ok {
		p.DistanceKm = d
	}
	if b, ok := docstore.AsBool(data["notificationsEnabled"]); ok {
		p.NotificationsEnabled = b
	}
	p.DeletionRequestedAt, _ = docstore.AsTime(data["deletionRequestedAt"])
	return p, nil
}

// SearchProfile returns the pairing inputs and whether they are all valid.
func (p Profile) SearchProfile() (match.SearchProfile, bool) {
	sp := match.SearchProfile{
		Interests: p.Interests,
		Location:  p.Location,
		RadiusKm:  p.DistanceKm,
	}
	return sp, p.HasLocation && sp.Complete()
}

// Device is one entry of users/{uid}/devices.
type Device struct {
	ID      string
	Path    string
	Token   string
	Enabled bool
}

func ParseDevice(d *docstore.Doc) (Device, bool) {
	if d == nil || !d.Exists {
		return Device{}, false
	}
	dev := Device{
		ID:    d.ID,
		Path:  d.Path,
		Token: docstore.AsString(d.Data["token"]),
	}
	dev.Enabled, _ = docstore.AsBool(d.Data["enabled"])
	return dev, dev.Token != ""
}
