// Package sweeper runs the periodic reconciliation pass that keeps the job
// queue self-healing: stuck claims are returned to the pool, orphaned
// uploads are committed, failures are retried with backoff and finished
// rows are deleted.
//
// The sweeper is the only component that reasons about wall-clock time;
// workers never check deadlines. Restarting the process is therefore the
// whole crash-recovery story.
package sweeper

import (
	"context"
	"math/rand"
	"time"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/metrics"
	"github.com/devhw/tgcdn/pkg/store"
)

const (
	// DefaultInterval is the sweep period.
	DefaultInterval = time.Hour

	// DefaultStuckAfter is how long a CLAIMED/UPLOADING/UPLOADED row may
	// sit untouched before the sweeper reclaims it.
	DefaultStuckAfter = 10 * time.Minute

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 3000 * time.Second
)

// Config controls sweep timing.
type Config struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	StuckAfter time.Duration `mapstructure:"stuck_after" yaml:"stuck_after"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = DefaultStuckAfter
	}
}

// Sweeper owns the periodic pass. One instance per process.
type Sweeper struct {
	config  Config
	store   *store.Store
	metrics *metrics.PipelineMetrics
}

// New creates a sweeper. metrics may be nil.
func New(config Config, st *store.Store, pm *metrics.PipelineMetrics) *Sweeper {
	config.applyDefaults()
	return &Sweeper{config: config, store: st, metrics: pm}
}

// Run sweeps once per interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("sweeper started", "interval", s.config.Interval, "stuck_after", s.config.StuckAfter)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single reconciliation pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	stats, err := s.store.RunSweep(ctx, store.SweepParams{
		Now:         now,
		StuckCutoff: now.Add(-s.config.StuckAfter),
		Jitter:      Jitter,
		Backoff:     Backoff,
	})
	if err != nil {
		logger.Error("sweep failed", "error", err)
		return
	}

	if stats.Empty() {
		logger.Debug("sweep found nothing to do")
		return
	}
	logger.Info("sweep completed",
		"unstuck", stats.Unstuck,
		"recommitted", stats.Recommitted,
		"retried", stats.Retried,
		"deleted", stats.Deleted,
	)
	s.metrics.RecordSweep(stats.Unstuck, stats.Recommitted, stats.Retried, stats.Deleted)
}

// Backoff returns the exponential retry delay for a row's current
// retry_count: min(2^retry_count - 1, 3000) seconds. Both ends are clamped
// so a corrupt counter cannot overflow the shift.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 62 {
		return maxBackoff
	}
	d := time.Duration(int64(1)<<uint(retryCount)-1) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Jitter returns a uniform delay in [1s, 5s) so requeued rows are not all
// re-claimed in the same burst.
func Jitter() time.Duration {
	return time.Duration(1+rand.Intn(4))*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
}
