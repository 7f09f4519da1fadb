// Package playstore verifies Google Play subscription purchases with the
// Android Publisher API.
package playstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"

	"github.com/ehgus2390/chineseapp/internal/application/purchase"
	"github.com/ehgus2390/chineseapp/internal/domain/entitlement"
)

// Payment states of a SubscriptionPurchase.
const (
	paymentReceived  = 1
	paymentFreeTrial = 2
)

type Verifier struct {
	svc         *androidpublisher.Service
	packageName string
}

func NewVerifier(svc *androidpublisher.Service, packageName string) *Verifier {
	return &Verifier{svc: svc, packageName: strings.TrimSpace(packageName)}
}

var _ purchase.Verifier = (*Verifier)(nil)

func (v *Verifier) Source() string { return entitlement.SourceGooglePlay }

func (v *Verifier) Verify(ctx context.Context, c purchase.Claim) (purchase.Receipt, error) {
	if v == nil || v.svc == nil || v.packageName == "" {
		return purchase.Receipt{}, purchase.ErrSourceUnavailable
	}
	productID := c.ProductID
	if productID == "" {
		productID = c.Tier
	}
	if c.PurchaseToken == "" {
		return purchase.Receipt{}, fmt.Errorf("%w: purchaseToken is required", purchase.ErrNotVerified)
	}

	sub, err := v.svc.Purchases.Subscriptions.Get(v.packageName, productID, c.PurchaseToken).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone || gerr.Code == http.StatusBadRequest) {
			return purchase.Receipt{}, fmt.Errorf("%w: play rejected token (%d)", purchase.ErrNotVerified, gerr.Code)
		}
		return purchase.Receipt{}, fmt.Errorf("playstore: subscriptions.get: %w", err)
	}

	if !sameOrder(sub.OrderId, c.OrderID) {
		return purchase.Receipt{}, fmt.Errorf("%w: order id mismatch", purchase.ErrNotVerified)
	}
	if sub.PaymentState == nil || (*sub.PaymentState != paymentReceived && *sub.PaymentState != paymentFreeTrial) {
		return purchase.Receipt{}, fmt.Errorf("%w: payment not received", purchase.ErrNotVerified)
	}
	if sub.ExpiryTimeMillis <= 0 {
		return purchase.Receipt{}, fmt.Errorf("%w: no expiry on subscription", purchase.ErrNotVerified)
	}
	return purchase.Receipt{
		OrderID:   sub.OrderId,
		ExpiresAt: time.UnixMilli(sub.ExpiryTimeMillis).UTC(),
	}, nil
}

// sameOrder accepts renewal order ids ("GPA.1234..0") for the original order.
func sameOrder(got, claimed string) bool {
	if got == "" || claimed == "" {
		return false
	}
	return got == claimed || strings.HasPrefix(got, claimed+"..")
}
