package playstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/ehgus2390/chineseapp/internal/application/purchase"
)

func fakePlay(t *testing.T, status int, body map[string]any) *androidpublisher.Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "/purchases/subscriptions/plus_monthly/tokens/tok-1"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	svc, err := androidpublisher.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return svc
}

func claim() purchase.Claim {
	return purchase.Claim{UID: "alice", Tier: "plus", OrderID: "GPA.1111", Source: "google_play", ProductID: "plus_monthly", PurchaseToken: "tok-1"}
}

func TestVerifyReceivedSubscription(t *testing.T) {
	expiry := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	svc := fakePlay(t, http.StatusOK, map[string]any{
		"orderId":          "GPA.1111..2",
		"paymentState":     1,
		"expiryTimeMillis": strconv.FormatInt(expiry.UnixMilli(), 10),
	})
	rc, err := NewVerifier(svc, "app.kkiri").Verify(context.Background(), claim())
	require.NoError(t, err)
	assert.Equal(t, expiry, rc.ExpiresAt)
	assert.Equal(t, "GPA.1111..2", rc.OrderID)
}

func TestVerifyRejectsOtherOrder(t *testing.T) {
	svc := fakePlay(t, http.StatusOK, map[string]any{"orderId": "GPA.2222", "paymentState": 1, "expiryTimeMillis": "1"})
	_, err := NewVerifier(svc, "app.kkiri").Verify(context.Background(), claim())
	assert.ErrorIs(t, err, purchase.ErrNotVerified)
}

func TestVerifyRejectsPendingPayment(t *testing.T) {
	svc := fakePlay(t, http.StatusOK, map[string]any{"orderId": "GPA.1111", "paymentState": 0, "expiryTimeMillis": "1"})
	_, err := NewVerifier(svc, "app.kkiri").Verify(context.Background(), claim())
	assert.ErrorIs(t, err, purchase.ErrNotVerified)
}

func TestVerifyUnknownToken(t *testing.T) {
	svc := fakePlay(t, http.StatusGone, map[string]any{"error": map[string]any{"code": 410, "message": "gone"}})
	_, err := NewVerifier(svc, "app.kkiri").Verify(context.Background(), claim())
	assert.ErrorIs(t, err, purchase.ErrNotVerified)
}

func TestVerifyNeedsToken(t *testing.T) {
	c := claim()
	c.PurchaseToken = ""
	_, err := NewVerifier(&androidpublisher.Service{}, "app.kkiri").Verify(context.Background(), c)
	assert.ErrorIs(t, err, purchase.ErrNotVerified)

	_, err = NewVerifier(nil, "app.kkiri").Verify(context.Background(), claim())
	assert.ErrorIs(t, err, purchase.ErrSourceUnavailable)
}

func TestSameOrder(t *testing.T) {
	assert.True(t, sameOrder("GPA.1", "GPA.1"))
	assert.True(t, sameOrder("GPA.1..4", "GPA.1"))
	assert.False(t, sameOrder("GPA.12", "GPA.1"))
	assert.False(t, sameOrder("", ""))
}
