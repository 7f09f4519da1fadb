// internal/adapters/in/http/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

// TokenVerifier verifies Firebase ID tokens; *fbauth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Caller is the authenticated user of a request.
type Caller struct {
	UID   string
	Admin bool
}

// context keys use a private type to avoid collisions.
type ctxKey struct{ name string }

var ctxKeyCaller = ctxKey{name: "caller"}

// AdminClaim is the custom claim that grants admin callables.
const AdminClaim = "admin"

// Auth verifies "Authorization: Bearer <ID_TOKEN>" and stores the Caller
// in the request context.
type Auth struct {
	Verifier TokenVerifier
	Log      *zap.Logger
}

func (m *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			writeAuthError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "auth not configured")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}
		idToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if idToken == "" {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "empty bearer token")
			return
		}

		token, err := m.Verifier.VerifyIDToken(r.Context(), idToken)
		if err != nil {
			if m.Log != nil {
				m.Log.Info("id token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			}
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}
		uid := strings.TrimSpace(token.UID)
		if uid == "" {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid uid in token")
			return
		}

		c := Caller{UID: uid}
		if v, ok := token.Claims[AdminClaim].(bool); ok {
			c.Admin = v
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
	})
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKeyCaller, c)
}

// CallerFrom returns the Caller set by Auth.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKeyCaller).(Caller)
	return c, ok && c.UID != ""
}

func writeAuthError(w http.ResponseWriter, code int, status, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"status":"` + status + `","message":"` + msg + `"}}`))
}
