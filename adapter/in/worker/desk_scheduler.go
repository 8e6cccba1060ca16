package worker

import (
	"context"
	"time"

	"helpdesk_worker/core/port/in"
	"helpdesk_worker/pkg/logger"
)

// Scheduler runs the periodic maintenance loops in-process: watch lease
// renewal and the unclassified-record sweep. An external cron hitting the
// trigger endpoints covers deployments where the scheduler is disabled.
type Scheduler struct {
	watches in.WatchService
	inbound in.InboundService

	watchInterval time.Duration
	sweepInterval time.Duration
	sweepLimit    int

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(watches in.WatchService, inbound in.InboundService, watchInterval, sweepInterval time.Duration, sweepLimit int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		watches:       watches,
		inbound:       inbound,
		watchInterval: watchInterval,
		sweepInterval: sweepInterval,
		sweepLimit:    sweepLimit,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *Scheduler) Start() {
	logger.Info("Scheduler starting: watch interval %v, sweep interval %v",
		s.watchInterval, s.sweepInterval)
	go s.runWatchLoop()
	go s.runSweepLoop()
}

func (s *Scheduler) Stop() {
	logger.Info("Scheduler stopping...")
	s.cancel()
}

func (s *Scheduler) runWatchLoop() {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	// Renew once at startup so a restart never waits a full interval with
	// expired leases.
	s.renewWatches()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.renewWatches()
		}
	}
}

func (s *Scheduler) renewWatches() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	summary, err := s.watches.RenewAll(ctx)
	if err != nil {
		logger.WithError(err).Error("Scheduled watch renewal failed")
		return
	}
	if summary.Failed > 0 {
		logger.Warn("Watch renewal: %d of %d mailboxes failed", summary.Failed, summary.Total)
	}
}

func (s *Scheduler) runSweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Minute)
	defer cancel()

	outcome, err := s.inbound.SweepUnclassified(ctx, s.sweepLimit)
	if err != nil {
		logger.WithError(err).Error("Scheduled sweep failed")
		return
	}
	if outcome.Fetched > 0 {
		logger.Info("Sweep reprocessed %d records: processed=%d, failed=%d",
			outcome.Fetched, outcome.Processed, outcome.Failed)
	}
}
