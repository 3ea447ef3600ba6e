package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/perrindel/cardsync/internal/types"
)

// Scheduler fires a sync callback on the configured interval while
// auto-sync is enabled. Ticks that land while a run is still in flight
// are skipped, never queued, so a slow run cannot pile up work behind
// itself.
type Scheduler struct {
	run func(context.Context) error
	log *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	running  bool // a callback invocation is in flight
}

// NewScheduler wraps the sync callback. Nothing runs until Apply sees a
// config with auto_sync enabled.
func NewScheduler(run func(context.Context) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, log: logger}
}

// Apply reconciles the scheduler with a config snapshot: starts the timer
// when auto-sync turns on, stops it when it turns off, and restarts it
// when the interval changes.
func (s *Scheduler) Apply(cfg types.SyncConfig) {
	interval := time.Duration(cfg.AutoSyncIntervalMinutes) * time.Minute

	s.mu.Lock()
	if cfg.AutoSync && s.cancel != nil && s.interval == interval {
		s.mu.Unlock()
		return
	}
	stopped := s.detachLocked()

	if !cfg.AutoSync {
		s.mu.Unlock()
		waitStopped(stopped)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.interval = interval
	s.mu.Unlock()

	waitStopped(stopped)
	go s.loop(ctx, interval, done)
	s.log.Info("auto-sync scheduled", "interval", interval)
}

// Stop halts the timer and waits for the loop to exit. A callback already
// in flight finishes on its own; Stop does not wait for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopped := s.detachLocked()
	s.mu.Unlock()
	waitStopped(stopped)
}

// detachLocked cancels the current loop and returns its done channel, or
// nil when no loop is active. The caller waits outside the lock.
func (s *Scheduler) detachLocked() chan struct{} {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	done := s.done
	s.cancel = nil
	s.done = nil
	s.interval = 0
	return done
}

func waitStopped(done chan struct{}) {
	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug("auto-sync tick skipped, previous run still in flight")
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		if err := s.run(ctx); err != nil {
			s.log.Warn("auto-sync run failed", "error", err)
		}
	}()
}
