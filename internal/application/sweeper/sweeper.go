// Package sweeper holds the scheduled maintenance jobs: session and queue
// expiry, queue cleanup and account purge.
package sweeper

import (
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

const (
	WriterExpire  = "expireMatchSessions"
	WriterCleanup = "cleanupQueue"
	WriterPurge   = "purgeAccounts"
)

type Config struct {
	ExpiryPageSize  int
	CleanupPageSize int
	CleanupGrace    time.Duration
	PurgeGrace      time.Duration
	// MaxPages bounds one run of a paging job.
	MaxPages int
}

func (c Config) withDefaults() Config {
	if c.ExpiryPageSize <= 0 {
		c.ExpiryPageSize = 50
	}
	if c.CleanupPageSize <= 0 {
		c.CleanupPageSize = 200
	}
	if c.CleanupGrace <= 0 {
		c.CleanupGrace = 60 * time.Second
	}
	if c.PurgeGrace <= 0 {
		c.PurgeGrace = 24 * time.Hour
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	return c
}

// Result summarizes one job run.
type Result struct {
	Scanned int
	Changed int
	Skipped int
	// Failed counts documents whose write failed; the run went on.
	Failed int
}

type Sweeper struct {
	store   docstore.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     Config

	Now func() time.Time
}

func New(store docstore.Store, log *zap.Logger, m *metrics.Metrics, cfg Config) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:   store,
		log:     log.Named("sweeper"),
		metrics: m,
		cfg:     cfg.withDefaults(),
		Now:     time.Now,
	}
}

func (s *Sweeper) now() time.Time {
	return s.Now().UTC()
}

func (s *Sweeper) finish(job string, res Result, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Error("sweep failed", zap.String("job", job), zap.Int("changed", res.Changed), zap.Error(err))
	} else if res.Changed > 0 || res.Failed > 0 {
		s.log.Info("sweep done",
			zap.String("job", job),
			zap.Int("scanned", res.Scanned),
			zap.Int("changed", res.Changed),
			zap.Int("failed", res.Failed),
		)
	}
	s.metrics.Sweep(job, outcome, res.Changed)
}
