package bootstrap

import (
	"context"
	"os"
	"sync"

	"helpdesk_worker/adapter/in/worker"
	"helpdesk_worker/config"
	"helpdesk_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs the background side of the system: the stream consumers, the
// job pool, and the maintenance schedulers.
type Worker struct {
	pool      *worker.Pool
	consumer  *worker.Consumer
	scheduler *worker.Scheduler
	deps      *Dependencies

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	processor := worker.NewProcessor(deps.Router, deps.Indexer)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.Workers = cfg.WorkerMax
	}
	pool := worker.NewPool(processor, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.Stream != nil {
		w.consumer = worker.NewConsumer(deps.Stream, pool, cfg.WorkerID)
	} else {
		logger.Warn("Redis not available, worker will not consume streams")
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewScheduler(
			deps.LeaseManager,
			deps.Router,
			cfg.WatchCheckInterval,
			cfg.SweepInterval,
			cfg.SweepBatchSize,
		)
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	if err := w.pool.Start(); err != nil {
		w.zlog.Error().Err(err).Msg("failed to start job pool")
		return
	}

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("starting stream consumer")
			if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
				w.zlog.Error().Err(err).Msg("stream consumer error")
			}
		}()
	}

	if w.scheduler != nil {
		w.scheduler.Start()
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
