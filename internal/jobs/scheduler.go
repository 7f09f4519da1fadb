package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/sweeper"
)

// Job is one scheduled sweep.
type Job func(ctx context.Context) (sweeper.Result, error)

// Scheduler runs sweeps on cron schedules. A run still in progress when
// its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration
}

func NewScheduler(log *zap.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("jobs")
	cl := cron.PrintfLogger(zap.NewStdLog(log))
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		timeout: timeout,
	}
}

// Add schedules job under name. An empty or "off" schedule disables it.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" || strings.EqualFold(schedule, "off") {
		s.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() { s.Run(name, job) })
	if err != nil {
		return fmt.Errorf("jobs: schedule %s (%q): %w", name, schedule, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// Run executes job once with the scheduler's timeout.
func (s *Scheduler) Run(name string, job Job) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := job(ctx)
	fields := []zap.Field{
		zap.String("job", name),
		zap.Int("scanned", res.Scanned),
		zap.Int("changed", res.Changed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		s.log.Error("job failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Info("job done", fields...)
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("jobs still running at shutdown")
	}
}
