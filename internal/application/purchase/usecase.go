// internal/application/purchase/usecase.go
package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// ClaimsCollection maps an order id to the user it activated.
const ClaimsCollection = "purchase_claims"

const handlerName = "verifyPurchase"

type Usecase struct {
	store     docstore.Store
	log       *zap.Logger
	metrics   *metrics.Metrics
	verifiers map[string]Verifier
	now       func() time.Time
}

func NewUsecase(store docstore.Store, log *zap.Logger, m *metrics.Metrics) *Usecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{
		store:     store,
		log:       log.Named("purchase"),
		metrics:   m,
		verifiers: map[string]Verifier{},
		now:       time.Now,
	}
}

// WithVerifier registers v for its source. A source without a verifier is
// rejected with ErrSourceUnavailable.
func (u *Usecase) WithVerifier(v Verifier) *Usecase {
	if v != nil {
		u.verifiers[v.Source()] = v
	}
	return u
}

// WithClock is for tests.
func (u *Usecase) WithClock(now func() time.Time) *Usecase {
	u.now = now
	return u
}

// Result is the protection state after a successful claim.
type Result struct {
	Active    bool      `json:"active"`
	Tier      string    `json:"tier"`
	Source    string    `json:"source"`
	OrderID   string    `json:"orderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ============================================================
// Commands
// ============================================================

// Verify checks c against its source and activates protection for the
// caller. Claiming the same order again extends nothing but is accepted;
// claiming another user's order is refused.
func (u *Usecase) Verify(ctx context.Context, callerUID string, c Claim) (*Result, error) {
	c = normalize(c)
	callerUID = strings.TrimSpace(callerUID)
	if c.UID == "" {
		c.UID = callerUID
	}
	if c.UID != callerUID {
		return nil, ErrPermissionDenied
	}
	now := u.now().UTC()
	if err := validate(c, now); err != nil {
		u.metrics.Event(handlerName, "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	v, ok := u.verifiers[c.Source]
	if !ok {
		u.metrics.Event(handlerName, "source_unavailable")
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, c.Source)
	}
	rc, err := v.Verify(ctx, c)
	if err != nil {
		u.log.Warn("purchase verification failed",
			zap.String("uid", c.UID),
			zap.String("orderId", c.OrderID),
			zap.String("source", c.Source),
			zap.Error(err),
		)
		u.metrics.Event(handlerName, "not_verified")
		if errors.Is(err, ErrNotVerified) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotVerified, err)
	}
	expires := c.ExpiresAt
	if !rc.ExpiresAt.IsZero() {
		expires = rc.ExpiresAt.UTC()
	}
	if !expires.After(now) {
		u.metrics.Event(handlerName, "expired")
		return nil, fmt.Errorf("%w: purchase already expired", ErrNotVerified)
	}

	res := &Result{Active: true, Tier: c.Tier, Source: c.Source, OrderID: c.OrderID, ExpiresAt: expires}
	claimPath := docstore.Path(ClaimsCollection, claimID(c.OrderID))
	err = u.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		cd, err := tx.Get(claimPath)
		if err != nil {
			return err
		}
		if cd.Exists {
			if owner := docstore.AsString(cd.Data["uid"]); owner != c.UID {
				return ErrOrderClaimed
			}
		}
		ed, err := tx.Get(entitlement.Path(c.UID))
		if err != nil {
			return err
		}
		current := entitlement.Parse(c.UID, ed.Data).Protection

		startedAt := now
		if current.Active && current.OrderID == c.OrderID && !current.StartedAt.IsZero() {
			startedAt = current.StartedAt
		}
		if err := tx.Merge(entitlement.Path(c.UID), map[string]any{
			"protection": map[string]any{
				"active":         true,
				"tier":           c.Tier,
				"startedAt":      startedAt,
				"expiresAt":      expires,
				"source":         c.Source,
				"orderId":        c.OrderID,
				"lastVerifiedAt": now,
			},
			"updatedAt": docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		return tx.Set(claimPath, map[string]any{
			"uid":       c.UID,
			"orderId":   c.OrderID,
			"source":    c.Source,
			"tier":      c.Tier,
			"expiresAt": expires,
			"claimedAt": now,
		})
	})
	if errors.Is(err, ErrOrderClaimed) {
		u.log.Warn("order reuse refused", zap.String("uid", c.UID), zap.String("orderId", c.OrderID))
		u.metrics.Event(handlerName, "order_claimed")
		return nil, err
	}
	if err != nil {
		u.metrics.Event(handlerName, "error")
		return nil, fmt.Errorf("purchase: activate %s: %w", c.UID, err)
	}

	u.log.Info("protection activated",
		zap.String("uid", c.UID),
		zap.String("tier", c.Tier),
		zap.String("source", c.Source),
		zap.Time("expiresAt", expires),
	)
	u.metrics.Event(handlerName, "activated")
	return res, nil
}

// ============================================================
// Helpers
// ============================================================

func normalize(c Claim) Claim {
	c.UID = strings.TrimSpace(c.UID)
	c.Tier = strings.TrimSpace(c.Tier)
	c.OrderID = strings.TrimSpace(c.OrderID)
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	c.ProductID = strings.TrimSpace(c.ProductID)
	c.PurchaseToken = strings.TrimSpace(c.PurchaseToken)
	c.ExpiresAt = c.ExpiresAt.UTC()
	return c
}

func validate(c Claim, now time.Time) error {
	if err := entitlement.ValidateTier(c.Tier); err != nil {
		return err
	}
	if err := entitlement.ValidateSource(c.Source); err != nil {
		return err
	}
	if c.OrderID == "" {
		return entitlement.ErrInvalidOrder
	}
	if !c.ExpiresAt.After(now) {
		return entitlement.ErrInvalidExpiry
	}
	return nil
}

// claimID keeps order ids usable as document ids.
func claimID(orderID string) string {
	return strings.ReplaceAll(orderID, "/", "_")
}

// ------------------------------------------------------------
// Test source
// ------------------------------------------------------------

// TestVerifier accepts every well-formed claim. Register it only when test
// purchases are allowed.
type TestVerifier struct{}

func (TestVerifier) Source() string { return entitlement.SourceTest }

func (TestVerifier) Verify(_ context.Context, c Claim) (Receipt, error) {
	if !strings.HasPrefix(c.OrderID, "test") {
		return Receipt{}, fmt.Errorf("%w: test order ids start with \"test\"", ErrNotVerified)
	}
	return Receipt{OrderID: c.OrderID}, nil
}
