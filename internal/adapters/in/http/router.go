// internal/adapters/in/http/router.go
package httpin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/adapters/in/http/handlers"
	"github.com/ehgus2390/chineseapp/internal/adapters/in/http/middleware"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// RouterDeps is everything NewRouter wires.
type RouterDeps struct {
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Verifier middleware.TokenVerifier
	Callable *handlers.CallableHandler
	Events   http.Handler
	Timeout  time.Duration
}

// NewRouter serves:
//
//	GET  /healthz
//	GET  /metrics
//	POST /events/firestore               Firestore document events
//	POST /callable/adminSetModeration    admin claim required
//	POST /callable/adminSetBan           admin claim required
//	POST /callable/verifyPurchase
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.Recover(deps.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", deps.Metrics.Handler())

	if deps.Events != nil {
		r.Post("/events/firestore", deps.Events.ServeHTTP)
	}

	if deps.Callable != nil {
		auth := &middleware.Auth{Verifier: deps.Verifier, Log: deps.Log}
		r.Route("/callable", func(cr chi.Router) {
			if deps.Timeout > 0 {
				cr.Use(chimw.Timeout(deps.Timeout))
			}
			cr.Use(auth.Handler)
			cr.Post("/adminSetModeration", deps.Callable.AdminSetModeration)
			cr.Post("/adminSetBan", deps.Callable.AdminSetBan)
			cr.Post("/verifyPurchase", deps.Callable.VerifyPurchase)
		})
	}
	return r
}
