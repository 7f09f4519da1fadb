// internal/platform/di/container.go
package di

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/adapters/in/eventarc"
	httpin "github.com/ehgus2390/chineseapp/internal/adapters/in/http"
	"github.com/ehgus2390/chineseapp/internal/adapters/in/http/handlers"
	"github.com/ehgus2390/chineseapp/internal/adapters/in/http/middleware"
	fsadapter "github.com/ehgus2390/chineseapp/internal/adapters/out/firestore"
	"github.com/ehgus2390/chineseapp/internal/adapters/out/gcs"
	"github.com/ehgus2390/chineseapp/internal/adapters/out/identity"
	"github.com/ehgus2390/chineseapp/internal/adapters/out/mail"
	"github.com/ehgus2390/chineseapp/internal/adapters/out/playstore"
	"github.com/ehgus2390/chineseapp/internal/adapters/out/push"
	"github.com/ehgus2390/chineseapp/internal/application/chatroom"
	"github.com/ehgus2390/chineseapp/internal/application/gate"
	"github.com/ehgus2390/chineseapp/internal/application/moderation"
	"github.com/ehgus2390/chineseapp/internal/application/notify"
	"github.com/ehgus2390/chineseapp/internal/application/pairing"
	"github.com/ehgus2390/chineseapp/internal/application/profilesync"
	"github.com/ehgus2390/chineseapp/internal/application/purchase"
	"github.com/ehgus2390/chineseapp/internal/application/requeue"
	"github.com/ehgus2390/chineseapp/internal/application/session"
	"github.com/ehgus2390/chineseapp/internal/application/sweeper"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/docstore/memstore"
	"github.com/ehgus2390/chineseapp/internal/infra/config"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

// Container is what main needs: the HTTP handler and the scheduled jobs.
type Container struct {
	Infra   *Infra
	Store   docstore.Store
	Metrics *metrics.Metrics
	Log     *zap.Logger

	Events  *eventarc.Router
	Handler http.Handler

	Pairing    *pairing.Engine
	Sessions   *session.Machine
	Notify     *notify.Dispatcher
	Moderation *moderation.Usecase
	Purchase   *purchase.Usecase
	Rooms      *chatroom.Cascade
	Profiles   *profilesync.Syncer
	Sweeper    *sweeper.Sweeper
	Purger     *sweeper.Purger
}

// Build dials infra and wires every service.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inf, err := NewInfra(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c, err := wire(cfg, inf, log)
	if err != nil {
		_ = inf.Close()
		return nil, err
	}
	return c, nil
}

func wire(cfg *config.Config, inf *Infra, log *zap.Logger) (*Container, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.New()

	// ------------------------------------------------------------
	// Store
	// ------------------------------------------------------------
	var store docstore.Store
	switch {
	case inf.Firestore != nil:
		store = fsadapter.NewStoreFS(inf.Firestore)
	case cfg.StoreBackend == config.BackendMemory:
		store = memstore.New()
	default:
		return nil, fmt.Errorf("di: no store for backend %q", cfg.StoreBackend)
	}

	// ------------------------------------------------------------
	// Outbound adapters (nil interfaces when not configured)
	// ------------------------------------------------------------
	var pushClient notify.Push
	if inf.Messaging != nil {
		pushClient = push.NewFCMClient(inf.Messaging)
	}
	var directory sweeper.Directory
	var verifier middleware.TokenVerifier
	if inf.FirebaseAuth != nil {
		directory = identity.NewFirebaseDirectory(inf.FirebaseAuth)
		verifier = inf.FirebaseAuth
	}
	var blobs sweeper.BlobStore
	if inf.GCS != nil {
		blobs = gcs.NewBlobStoreGCS(inf.GCS, cfg.BlobBucket)
	}

	// ------------------------------------------------------------
	// Usecases
	// ------------------------------------------------------------
	throttle := gate.Throttle{Window: cfg.LimitedThrottle}
	rq := requeue.Requeuer{TTL: cfg.QueueEntryTTL}

	c := &Container{Infra: inf, Store: store, Metrics: m, Log: log}
	c.Pairing = pairing.NewEngine(store, log, m, pairing.Config{
		CandidateLimit: cfg.CandidateLimit,
		SessionTTL:     cfg.PairSessionTTL,
		Throttle:       throttle,
	})
	c.Sessions = session.NewMachine(store, log, m, session.Config{
		RequeueOnResolve: cfg.RequeueOnResolve,
		Requeue:          rq,
	})
	c.Notify = notify.NewDispatcher(store, pushClient, log, m)

	if inf.SendGridAPIKey != "" && cfg.ModerationAlertTo != "" {
		mailer := mail.NewSendGridClient(inf.SendGridAPIKey, cfg.ModerationAlertFrom, log)
		c.Moderation = moderation.NewUsecaseWithMailer(store, log, m, mailer, cfg.ModerationAlertTo)
	} else {
		c.Moderation = moderation.NewUsecase(store, log, m)
	}

	c.Purchase = purchase.NewUsecase(store, log, m)
	if inf.Play != nil {
		c.Purchase.WithVerifier(playstore.NewVerifier(inf.Play, cfg.PlayPackageName))
	}
	if cfg.AllowTestPurchases {
		log.Warn("test purchases are enabled")
		c.Purchase.WithVerifier(purchase.TestVerifier{})
	}

	c.Rooms = chatroom.NewCascade(store, log, m, chatroom.DefaultPageSize)
	c.Profiles = profilesync.New(store, log, m)
	c.Sweeper = sweeper.New(store, log, m, sweeper.Config{
		ExpiryPageSize:  cfg.ExpiryPageSize,
		CleanupPageSize: cfg.CleanupPageSize,
		CleanupGrace:    cfg.CleanupGrace,
		PurgeGrace:      cfg.PurgeGrace,
	})
	c.Purger = &sweeper.Purger{Sweeper: c.Sweeper, Directory: directory, Blobs: blobs}

	// ------------------------------------------------------------
	// Inbound
	// ------------------------------------------------------------
	c.Events = eventarc.NewRouter(log, m, cfg.HandlerTimeout)
	registerEvents(c.Events, c)

	c.Handler = httpin.NewRouter(httpin.RouterDeps{
		Log:      log,
		Metrics:  m,
		Verifier: verifier,
		Events:   c.Events,
		Timeout:  cfg.HandlerTimeout,
		Callable: &handlers.CallableHandler{
			Moderation: c.Moderation,
			Purchase:   c.Purchase,
			Log:        log,
			Metrics:    m,
		},
	})
	return c, nil
}

// registerEvents binds document paths to handlers. Every handler on a
// path sees every delivery and filters for itself.
func registerEvents(rt *eventarc.Router, c *Container) {
	rt.Handle("match_sessions/{id}", pairing.Writer, c.Pairing.HandleQueueWrite)
	rt.Handle("match_sessions/{id}", session.WriterAccept, c.Sessions.HandleAcceptance)
	rt.Handle("match_sessions/{id}", session.WriterReject, c.Sessions.HandleRejection)
	rt.Handle("match_sessions/{id}", session.WriterResolve, c.Sessions.HandleResolution)
	rt.Handle("match_sessions/{id}", notify.WriterAccepted, c.Notify.HandleSessionAccepted)

	rt.Handle("chat_rooms/{id}", chatroom.Writer, c.Rooms.HandleRoomWrite)
	rt.Handle("chat_rooms/{room}/messages/{msg}", notify.WriterMessage, c.Notify.HandleChatMessage)

	rt.Handle("users/{uid}", profilesync.Writer, c.Profiles.HandleUserWrite)

	rt.Handle("reports/{id}", moderation.WriterReport, c.Moderation.HandleReportCreated)
	rt.Handle(moderation.CommunityRoot+"/posts/{post}/reports/{uid}", moderation.WriterCommunity, c.Moderation.HandleCommunityReport)
	rt.Handle(moderation.CommunityRoot+"/posts/{post}/comments/{comment}/reports/{uid}", moderation.WriterCommunity, c.Moderation.HandleCommunityReport)
}

// Close releases the clients.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	return c.Infra.Close()
}
