// Package sweeper periodically prunes dead entries from the per-user
// session indexes. Session records expire on their own; only the index
// members pointing at them linger until the next create or sweep.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Target is the sweep operation. *azauth.Engine satisfies it.
type Target interface {
	SweepSessions(ctx context.Context) (int, error)
}

type Config struct {
	Interval time.Duration
	// Timeout bounds a single sweep. Zero means Interval.
	Timeout time.Duration
}

type Stats struct {
	Running   bool
	Runs      int64
	Pruned    int64
	LastRun   time.Time
	LastError string
}

type Sweeper struct {
	target Target
	config Config
	log    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stats   Stats
}

func New(target Target, cfg Config, log *zap.Logger) *Sweeper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{target: target, config: cfg, log: log.Named("sweeper")}
}

// Start runs one sweep immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return errors.New("sweeper: interval must be > 0")
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("sweeper: already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and records the outcome.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	n, err := s.target.SweepSessions(runCtx)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRun = time.Now()
	s.stats.Pruned += int64(n)
	s.stats.LastError = ""
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("session sweep failed", zap.Error(err))
		return n
	}
	if n > 0 {
		s.log.Info("session sweep", zap.Int("pruned", n))
	}
	return n
}

func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Running = s.running
	return out
}
