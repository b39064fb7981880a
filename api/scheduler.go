/*
scheduler.go - Automated overdue sweep

PURPOSE:
  Periodically flips pending bills whose due date has passed to overdue.
  The same sweep is available on demand via POST /api/billing/overdue and
  `dormctl bills overdue`.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Sweeps once immediately on Start
  - Acts as dorm.System so the role check always passes
  - MarkOverdue is a single conditional update, so overlapping sweeps from
    several replicas are harmless

CONFIGURATION:
  - OVERDUE_SWEEP_ENABLED: Whether the scheduler runs (default: false)
  - OVERDUE_SWEEP_INTERVAL: How often to sweep (default: 1 hour)

USAGE:
  s := NewOverdueScheduler(engine, clock, logger)
  s.CheckInterval = cfg.OverdueSweepInterval
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - billing/engine.go: MarkOverdue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/dorm-engine/dorm"
	"go.uber.org/zap"
)

// Sweeper is the billing operation the scheduler drives.
type Sweeper interface {
	MarkOverdue(ctx context.Context, actor dorm.Actor, asOf time.Time) (int, error)
}

// OverdueScheduler runs the overdue sweep on a ticker.
type OverdueScheduler struct {
	Sweeper       Sweeper
	Clock         dorm.Clock
	CheckInterval time.Duration
	Enabled       bool

	log     *zap.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // guards ticker and stop

	lastMu  sync.Mutex
	lastRun time.Time
}

// NewOverdueScheduler creates an enabled scheduler with a one hour interval.
func NewOverdueScheduler(s Sweeper, clock dorm.Clock, log *zap.Logger) *OverdueScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = dorm.SystemClock{}
	}
	return &OverdueScheduler{
		Sweeper:       s,
		Clock:         clock,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           log,
	}
}

// Start begins the scheduler.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("overdue scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Info("overdue scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("overdue scheduler stopped")
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow(context.Background())
	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns how many bills became overdue.
func (s *OverdueScheduler) RunNow(ctx context.Context) int {
	today := dorm.Today(s.Clock)
	n, err := s.Sweeper.MarkOverdue(ctx, dorm.System, today)
	if err != nil {
		s.log.Error("overdue sweep failed", zap.Error(err))
		return 0
	}
	s.lastMu.Lock()
	s.lastRun = s.Clock.Now()
	s.lastMu.Unlock()
	if n > 0 {
		s.log.Info("overdue sweep completed", zap.Int("marked", n), zap.String("as_of", dorm.FormatDate(today)))
	}
	return n
}

// LastRun returns when the last successful sweep finished.
func (s *OverdueScheduler) LastRun() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}
