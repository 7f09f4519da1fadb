// internal/application/purchase/ports.go
package purchase

import (
	"context"
	"errors"
	"time"
)

// Claim is what the client submits after a store purchase.
type Claim struct {
	UID       string    `json:"uid"`
	Tier      string    `json:"tier"`
	OrderID   string    `json:"orderId"`
	Source    string    `json:"source"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Store-specific proof. google_play needs both.
	ProductID     string `json:"productId,omitempty"`
	PurchaseToken string `json:"purchaseToken,omitempty"`
}

// Receipt is the store's answer. A zero ExpiresAt keeps the claimed expiry.
type Receipt struct {
	OrderID   string
	ExpiresAt time.Time
}

// Verifier checks a claim against one purchase source.
type Verifier interface {
	Source() string
	Verify(ctx context.Context, c Claim) (Receipt, error)
}

var (
	ErrInvalidArgument   = errors.New("purchase: invalid argument")
	ErrPermissionDenied  = errors.New("purchase: claim belongs to another user")
	ErrSourceUnavailable = errors.New("purchase: source not available")
	ErrNotVerified       = errors.New("purchase: purchase could not be verified")
	ErrOrderClaimed      = errors.New("purchase: order already claimed by another user")
)
