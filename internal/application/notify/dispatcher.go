// Package notify delivers push notifications for accepted sessions and new
// chat messages. Every event is marked as notified under an operation lock
// before anything is sent, so a redelivered trigger never sends twice.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

const (
	WriterAccepted = "notifyMatchAccepted"
	WriterMessage  = "notifyMessage"
	WriterPrune    = "pruneTokens"

	// MaxMulticastTokens is the per-call token limit of the push provider.
	MaxMulticastTokens = 500
)

// Message is one multicast push.
type Message struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string
}

// Result is the outcome for one token of a multicast.
type Result struct {
	Token string
	OK    bool
	// Invalid marks tokens the provider will never accept again.
	Invalid bool
	Err     error
}

// Push sends multicast notifications.
type Push interface {
	SendMulticast(ctx context.Context, msg Message) ([]Result, error)
}

var ErrPushNotConfigured = errors.New("notify: push client not configured")

// Target is one enabled device of a recipient.
type Target struct {
	UID        string
	Token      string
	DevicePath string
}

type Dispatcher struct {
	store   docstore.Store
	push    Push
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(store docstore.Store, push Push, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, push: push, log: log.Named("notify"), metrics: m}
}

// ResolveTokens returns the enabled devices of every recipient that has
// not turned notifications off.
func (d *Dispatcher) ResolveTokens(ctx context.Context, uids []string) ([]Target, error) {
	var out []Target
	for _, uid := range uids {
		pd, err := d.store.Get(ctx, profile.Path(uid))
		if err != nil {
			return nil, fmt.Errorf("notify: read profile %s: %w", uid, err)
		}
		p, err := profile.Parse(uid, pd.Data)
		if err != nil {
			continue
		}
		if !p.NotificationsEnabled {
			d.log.Debug("notifications disabled", zap.String("uid", uid))
			continue
		}
		docs, err := d.store.Query(ctx, docstore.Query{Collection: profile.DevicesPath(uid)}.
			Where("enabled", docstore.OpEq, true))
		if err != nil {
			return nil, fmt.Errorf("notify: list devices %s: %w", uid, err)
		}
		for _, doc := range docs {
			dev, ok := profile.ParseDevice(doc)
			if !ok || !dev.Enabled {
				continue
			}
			out = append(out, Target{UID: uid, Token: dev.Token, DevicePath: dev.Path})
		}
	}
	return out, nil
}

// send issues one multicast per event (chunked at the provider limit) and
// disables devices whose tokens were rejected as invalid.
func (d *Dispatcher) send(ctx context.Context, kind string, targets []Target, msg Message) error {
	if len(targets) == 0 {
		d.metrics.Push(kind, "no_target", 1)
		return nil
	}
	if d.push == nil {
		return ErrPushNotConfigured
	}

	byToken := map[string][]string{}
	var tokens []string
	for _, t := range targets {
		if _, seen := byToken[t.Token]; !seen {
			tokens = append(tokens, t.Token)
		}
		byToken[t.Token] = append(byToken[t.Token], t.DevicePath)
	}

	var (
		invalid []string
		ok      int
		failed  int
		sendErr error
	)
	for start := 0; start < len(tokens); start += MaxMulticastTokens {
		end := start + MaxMulticastTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := msg
		chunk.Tokens = tokens[start:end]
		results, err := d.push.SendMulticast(ctx, chunk)
		if err != nil {
			failed += len(chunk.Tokens)
			sendErr = err
			continue
		}
		for _, r := range results {
			switch {
			case r.OK:
				ok++
			case r.Invalid:
				invalid = append(invalid, byToken[r.Token]...)
			default:
				failed++
				d.log.Debug("push failed", zap.String("kind", kind), zap.Error(r.Err))
			}
		}
	}
	d.metrics.Push(kind, "ok", ok)
	d.metrics.Push(kind, "failed", failed)
	d.metrics.Push(kind, "invalid", len(invalid))

	if len(invalid) > 0 {
		if err := d.pruneTokens(ctx, invalid); err != nil {
			d.log.Warn("disable invalid devices failed", zap.Int("devices", len(invalid)), zap.Error(err))
		}
	}
	return sendErr
}

// pruneTokens disables the given device documents in one batch.
func (d *Dispatcher) pruneTokens(ctx context.Context, devicePaths []string) error {
	writes := make([]docstore.Write, 0, len(devicePaths))
	for _, p := range devicePaths {
		writes = append(writes, docstore.Write{
			Kind: docstore.WriteMerge,
			Path: p,
			Data: match.Stamp(map[string]any{
				"enabled":        false,
				"disabledReason": "invalid_token",
			}, WriterPrune, "pruneTokens"),
		})
	}
	if err := d.store.Batch(ctx, writes); err != nil {
		return err
	}
	d.log.Info("disabled invalid devices", zap.Int("devices", len(devicePaths)))
	return nil
}
