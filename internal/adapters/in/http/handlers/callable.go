// internal/adapters/in/http/handlers/callable.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/adapters/in/http/middleware"
	"github.com/ehgus2390/chineseapp/internal/application/moderation"
	"github.com/ehgus2390/chineseapp/internal/application/purchase"
	moderationdom "github.com/ehgus2390/chineseapp/internal/domain/moderation"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

const maxRequestBody = 64 << 10

// CallableHandler serves the client-callable endpoints. Requests and
// responses use the callable envelope: {"data": ...} in, {"result": ...}
// or {"error": {"status", "message"}} out.
type CallableHandler struct {
	Moderation *moderation.Usecase
	Purchase   *purchase.Usecase
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// ------------------------------------------------------------
// Error mapping
// ------------------------------------------------------------

type callError struct {
	code   int
	status string
	msg    string
}

func (e *callError) Error() string { return e.msg }

func invalid(format string, args ...any) *callError {
	return &callError{code: http.StatusBadRequest, status: "INVALID_ARGUMENT", msg: fmt.Sprintf(format, args...)}
}

// classify maps usecase errors onto callable statuses.
func classify(err error) *callError {
	var ce *callError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, moderation.ErrInvalidArgument), errors.Is(err, purchase.ErrInvalidArgument):
		return &callError{http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()}
	case errors.Is(err, moderation.ErrPermissionDenied), errors.Is(err, purchase.ErrPermissionDenied):
		return &callError{http.StatusForbidden, "PERMISSION_DENIED", err.Error()}
	case errors.Is(err, purchase.ErrSourceUnavailable), errors.Is(err, purchase.ErrNotVerified), errors.Is(err, purchase.ErrOrderClaimed):
		return &callError{http.StatusBadRequest, "FAILED_PRECONDITION", err.Error()}
	default:
		return &callError{http.StatusInternalServerError, "INTERNAL", "internal error"}
	}
}

func (h *CallableHandler) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	ce := classify(err)
	if ce.status == "INTERNAL" && h.Log != nil {
		h.Log.Error("callable failed", zap.String("callable", name), zap.Error(err))
	}
	h.Metrics.Event(name, strings.ToLower(ce.status))
	writeJSON(w, ce.code, map[string]any{"error": map[string]any{"status": ce.status, "message": ce.msg}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, dst any) error {
	if r.Method != http.MethodPost {
		return invalid("POST required")
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return invalid("unreadable body")
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return invalid("body must be JSON")
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return invalid("data is required")
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return invalid("malformed data: %v", err)
	}
	return nil
}

// flexTime accepts RFC 3339 strings or epoch milliseconds.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("time %q is not RFC 3339", str)
		}
		t.Time = ts.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("time %s is not epoch millis", s)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// ------------------------------------------------------------
// Admin
// ------------------------------------------------------------

type setModerationRequest struct {
	UID                string                   `json:"uid"`
	Level              *int64                   `json:"level"`
	ProtectionEligible *bool                    `json:"protectionEligible"`
	HardFlags          *moderationdom.HardFlags `json:"hardFlags"`
	Ban                *banBlock                `json:"ban"`
	Note               string                   `json:"note"`
}

type banBlock struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason"`
	Until  *flexTime `json:"until"`
}

func (b banBlock) input(uid string) moderation.SetBanInput {
	in := moderation.SetBanInput{UID: uid, Active: b.Active, Reason: b.Reason}
	if b.Until != nil && !b.Until.IsZero() {
		until := b.Until.Time
		in.Until = &until
	}
	return in
}

func actor(r *http.Request) moderation.Actor {
	c, _ := middleware.CallerFrom(r.Context())
	return moderation.Actor{UID: c.UID, Admin: c.Admin}
}

// AdminSetModeration handles POST /callable/adminSetModeration.
func (h *CallableHandler) AdminSetModeration(w http.ResponseWriter, r *http.Request) {
	const name = "adminSetModeration"
	var req setModerationRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, name, err)
		return
	}
	in := moderation.SetModerationInput{
		UID:                req.UID,
		Level:              req.Level,
		ProtectionEligible: req.ProtectionEligible,
		HardFlags:          req.HardFlags,
		Note:               req.Note,
	}
	if req.Ban != nil {
		ban := req.Ban.input(req.UID)
		in.Ban = &ban
	}
	res, err := h.Moderation.AdminSetModeration(r.Context(), actor(r), in)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	h.Metrics.Event(name, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

type setBanRequest struct {
	UID string `json:"uid"`
	banBlock
}

// AdminSetBan handles POST /callable/adminSetBan.
func (h *CallableHandler) AdminSetBan(w http.ResponseWriter, r *http.Request) {
	const name = "adminSetBan"
	var req setBanRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, name, err)
		return
	}
	res, err := h.Moderation.AdminSetBan(r.Context(), actor(r), req.input(req.UID))
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	h.Metrics.Event(name, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

// ------------------------------------------------------------
// Purchases
// ------------------------------------------------------------

type verifyPurchaseRequest struct {
	UID           string   `json:"uid"`
	Tier          string   `json:"tier"`
	OrderID       string   `json:"orderId"`
	Source        string   `json:"source"`
	ExpiresAt     flexTime `json:"expiresAt"`
	ProductID     string   `json:"productId"`
	PurchaseToken string   `json:"purchaseToken"`
}

// VerifyPurchase handles POST /callable/verifyPurchase.
func (h *CallableHandler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	const name = "verifyPurchase"
	var req verifyPurchaseRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, name, err)
		return
	}
	c, _ := middleware.CallerFrom(r.Context())
	res, err := h.Purchase.Verify(r.Context(), c.UID, purchase.Claim{
		UID:           req.UID,
		Tier:          req.Tier,
		OrderID:       req.OrderID,
		Source:        req.Source,
		ExpiresAt:     req.ExpiresAt.Time,
		ProductID:     req.ProductID,
		PurchaseToken: req.PurchaseToken,
	})
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}
