package sweep

import (
	"context"
	"time"

	"idle-cache/internal/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Store defines the minimal contract required by the sweeper.
// This keeps the sweeper decoupled from the concrete store implementation.
type Store interface {
	RemoveExpired() int
	RemoveIdle(maxIdle time.Duration) int
}

// Sweeper periodically removes expired and idle keys from the store.
type Sweeper struct {
	store    Store
	interval time.Duration
	maxIdle  time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger
	metrics  *metrics.Registry
}

// NewSweeper creates a new Sweeper. A non-positive maxIdle disables idle
// removal; expired keys are still removed.
func NewSweeper(
	store Store,
	interval time.Duration,
	maxIdle time.Duration,
	clock clockwork.Clock,
	logger zerolog.Logger,
	reg *metrics.Registry,
) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		maxIdle:  maxIdle,
		clock:    clock,
		logger:   logger,
		metrics:  reg,
	}
}

// Start runs the sweep loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug().
		Dur("interval", s.interval).
		Dur("max_idle", s.maxIdle).
		Msg("sweeper started")

	for {
		select {
		case <-ticker.Chan():
			s.runOnce()
		case <-ctx.Done():
			s.logger.Debug().Msg("sweeper stopped")
			return
		}
	}
}

// runOnce performs a single sweep cycle and returns the number of keys removed.
func (s *Sweeper) runOnce() int {
	s.metrics.Inc(metrics.SweepRunsTotal)

	expired := s.store.RemoveExpired()
	idle := 0
	if s.maxIdle > 0 {
		idle = s.store.RemoveIdle(s.maxIdle)
	}

	removed := expired + idle
	if removed > 0 {
		s.metrics.Add(metrics.SweepKeysRemovedTotal, int64(removed))
		s.logger.Info().
			Int("expired", expired).
			Int("idle", idle).
			Msg("sweeper removed keys")
	}
	return removed
}
