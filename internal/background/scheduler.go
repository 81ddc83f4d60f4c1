package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/tradergate/internal/kvstore"
	"github.com/BradenHooton/tradergate/internal/models"
)

// Sweeper runs one pass of the subscription sweep
type Sweeper interface {
	RunDailySweep(ctx context.Context) (*models.SweepResult, error)
}

// AuditPruner drops audit entries past their retention
type AuditPruner interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// SchedulerConfig holds the job intervals. A zero PurgeInterval disables
// store purging and a zero AuditRetention keeps audit entries forever.
type SchedulerConfig struct {
	SweepInterval  time.Duration
	SweepOnStart   bool
	PurgeInterval  time.Duration
	SweepTimeout   time.Duration
	AuditRetention time.Duration
}

// Scheduler periodically runs the subscription sweep and purges expired
// entries from the in-process store
type Scheduler struct {
	sweeper Sweeper
	purger  kvstore.Purger
	pruner  AuditPruner
	config  SchedulerConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	once    sync.Once
}

// NewScheduler creates a new scheduler. purger may be nil when the store
// has no process-local state. pruner may be nil to skip audit retention.
func NewScheduler(sweeper Sweeper, purger kvstore.Purger, pruner AuditPruner, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = 5 * time.Minute
	}
	return &Scheduler{
		sweeper: sweeper,
		purger:  purger,
		pruner:  pruner,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start blocks running both jobs until Stop is called or ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	sweepTicker := time.NewTicker(s.config.SweepInterval)
	defer sweepTicker.Stop()

	var purgeC <-chan time.Time
	if s.purger != nil && s.config.PurgeInterval > 0 {
		purgeTicker := time.NewTicker(s.config.PurgeInterval)
		defer purgeTicker.Stop()
		purgeC = purgeTicker.C
	}

	if s.config.SweepOnStart {
		s.RunSweep(ctx)
		s.PruneAudit(ctx)
	}

	for {
		select {
		case <-sweepTicker.C:
			s.RunSweep(ctx)
			s.PruneAudit(ctx)
		case <-purgeC:
			s.runPurge()
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		}
	}
}

// RunSweep runs the sweep once under the configured timeout. Errors are
// logged; the next tick retries.
func (s *Scheduler) RunSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()

	res, err := s.sweeper.RunDailySweep(sweepCtx)
	if err != nil {
		s.logger.Error("subscription sweep failed", slog.Any("error", err))
	}
	if res != nil && (res.ExpiredCount > 0 || res.RemindersSent > 0) {
		s.logger.Info("subscription sweep completed",
			slog.Int("expired", res.ExpiredCount),
			slog.Int("reminders", res.RemindersSent))
	}
}

// PruneAudit applies the audit retention once. It is a no-op without a
// pruner or retention.
func (s *Scheduler) PruneAudit(ctx context.Context) {
	if s.pruner == nil || s.config.AuditRetention <= 0 {
		return
	}

	pruneCtx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()

	if _, err := s.pruner.PurgeOlderThan(pruneCtx, s.config.AuditRetention); err != nil {
		s.logger.Error("audit retention failed", slog.Any("error", err))
	}
}

func (s *Scheduler) runPurge() {
	if n := s.purger.PurgeExpired(); n > 0 {
		s.logger.Debug("purged expired store entries", slog.Int("count", n))
	}
}

// Stop signals the scheduler to stop. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}
