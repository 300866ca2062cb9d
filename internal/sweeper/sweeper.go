// Package sweeper periodically scans the correlation table for pending
// requests the oracle never answered. With a zero ExpireAfter it only
// reports them; with a positive ExpireAfter it marks them expired so their
// late callbacks are rejected like any other unknown request.
package sweeper

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"cipherfeed/pkg/ledger"
	"cipherfeed/pkg/logger"
)

// reportAge is the horizon for report-only mode: a created request older
// than this shows up in the stranded-requests log line.
const reportAge = time.Hour

// Config carries the sweep schedule. Cron must be a valid cron expression;
// callers validate it before Start.
type Config struct {
	Cron        string
	ExpireAfter time.Duration
}

// Sweeper runs the scheduled scan. One goroutine, stopped via Stop.
type Sweeper struct {
	led    *ledger.Ledger
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a sweeper over led. Call Start to launch the schedule.
func New(led *ledger.Ledger, cfg Config) *Sweeper {
	if cfg.Cron == "" {
		cfg.Cron = "*/10 * * * *"
	}
	return &Sweeper{led: led, cfg: cfg, done: make(chan struct{})}
}

// Start launches the scheduler goroutine.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.runScheduler(ctx)
	logger.Info("sweeper_started", "cron", s.cfg.Cron, "expire_after", s.cfg.ExpireAfter.String())
}

// Stop cancels the scheduler and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	logger.Info("sweeper_stopped")
}

// runScheduler computes the next tick for the configured cron expression
// and sleeps until that time, running one sweep per tick.
func (s *Sweeper) runScheduler(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cfg.Cron, now, false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", s.cfg.Cron, "error", err)
			// fallback sleep then retry
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			s.RunOnce()
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep. Exposed for the admin endpoint and tests.
func (s *Sweeper) RunOnce() {
	if s.cfg.ExpireAfter > 0 {
		n, err := s.led.ExpireStale(s.cfg.ExpireAfter)
		if err != nil {
			logger.Error("sweep_failed", "error", err)
			return
		}
		if n > 0 {
			logger.Warn("sweep_expired_requests", "count", n, "older_than", s.cfg.ExpireAfter.String())
		} else {
			logger.Debug("sweep_clean")
		}
		return
	}

	// Report-only mode: stranded requests stay created forever, but ops
	// should still hear about them.
	stale := s.led.StalePending(reportAge)
	if len(stale) == 0 {
		logger.Debug("sweep_clean")
		return
	}
	oldest := stale[0]
	for _, pr := range stale[1:] {
		if pr.CreatedTS < oldest.CreatedTS {
			oldest = pr
		}
	}
	logger.Warn("stranded_requests",
		"count", len(stale),
		"oldest_request", oldest.ID,
		"oldest_age", time.Since(time.Unix(oldest.CreatedTS, 0)).Round(time.Second).String(),
	)
}
