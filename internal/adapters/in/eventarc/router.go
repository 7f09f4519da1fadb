// internal/adapters/in/eventarc/router.go
package eventarc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// maxBody bounds one event payload; Firestore documents are at most 1 MiB
// and an event carries two.
const maxBody = 4 << 20

// Handler consumes one document change.
type Handler func(ctx context.Context, ch docstore.Change) error

type route struct {
	name    string
	pattern []string
	handler Handler
}

// Router delivers Firestore document events to every handler whose
// pattern matches the document path. Patterns use {name} for one segment:
// "match_sessions/{id}".
type Router struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	routes  []route
}

func NewRouter(log *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Router{log: log.Named("eventarc"), metrics: m, timeout: timeout}
}

// Handle registers h under name for documents matching pattern.
func (rt *Router) Handle(pattern, name string, h Handler) {
	rt.routes = append(rt.routes, route{
		name:    name,
		pattern: strings.Split(strings.Trim(pattern, "/"), "/"),
		handler: h,
	})
}

func (r route) matches(segs []string) bool {
	if len(segs) != len(r.pattern) {
		return false
	}
	for i, p := range r.pattern {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

// Dispatch runs every matching handler and returns the first error.
// Handlers run even when an earlier one failed.
func (rt *Router) Dispatch(ctx context.Context, ch docstore.Change) error {
	segs := strings.Split(strings.Trim(ch.Path, "/"), "/")
	var first error
	for _, r := range rt.routes {
		if !r.matches(segs) {
			continue
		}
		start := time.Now()
		err := rt.run(ctx, r, ch)
		rt.metrics.Observe(r.name, time.Since(start).Seconds())
		if err != nil {
			rt.log.Error("handler failed",
				zap.String("handler", r.name),
				zap.String("path", ch.Path),
				zap.String("eventId", ch.EventID),
				zap.Error(err),
			)
			rt.metrics.Event(r.name, "failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// run isolates one handler: its own deadline, and a panic becomes an error.
func (rt *Router) run(ctx context.Context, r route, ch docstore.Change) (err error) {
	ctx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Error("handler panic", zap.String("handler", r.name), zap.Any("panic", rec), zap.Stack("stack"))
			err = errors.New("eventarc: handler panic")
		}
	}()
	return r.handler(ctx, ch)
}

// ServeHTTP accepts a binary-mode CloudEvent whose data is a JSON
// DocumentEventData. A failing handler answers 500 so the trigger is
// redelivered; undecodable events answer 400 and are dropped.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := req.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		rt.log.Warn("unsupported event encoding", zap.String("contentType", ct))
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	eventID := req.Header.Get("Ce-Id")
	ch, err := DecodeChange(eventID, req.Header.Get("Ce-Subject"), body)
	if err != nil {
		rt.log.Warn("dropping undecodable event",
			zap.String("eventId", eventID),
			zap.String("type", req.Header.Get("Ce-Type")),
			zap.Error(err),
		)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := rt.Dispatch(req.Context(), ch); err != nil {
		http.Error(w, "handler failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
