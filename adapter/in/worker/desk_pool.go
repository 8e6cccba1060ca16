// Package worker hosts the background job consumers and schedulers.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"helpdesk_worker/internal/stream"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

const maxJobRetries = 3

// JobProcessor handles one decoded stream job.
type JobProcessor interface {
	Process(ctx context.Context, job *stream.Job) error
}

// PoolConfig holds worker pool sizing and timeouts.
type PoolConfig struct {
	Workers          int
	BatchSize        int
	WorkerChanSize   int
	JobTimeout       time.Duration
	JobTimeoutByType map[string]time.Duration
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		BatchSize:      10,
		WorkerChanSize: 100,
		JobTimeout:     60 * time.Second,
		JobTimeoutByType: map[string]time.Duration{
			// Mailbox drains hit the provider once per message.
			"inbound.notification": 3 * time.Minute,
			// Imports embed every chunk of every document.
			"knowledge.import": 10 * time.Minute,
		},
	}
}

// Pool runs stream jobs on a bounded worker group with retries and a
// dead-letter channel for jobs that exhaust them.
type Pool struct {
	processor JobProcessor
	config    *PoolConfig

	group *pool.WorkerGroup[*stream.Job]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	dlq   chan *stream.Job
	dlqWg sync.WaitGroup

	started bool
	mu      sync.Mutex
}

type PoolMetrics struct {
	Processed int64
	Failed    int64
	Retried   int64
}

type jobWorker struct {
	pool *Pool
}

func (w *jobWorker) Do(ctx context.Context, job *stream.Job) error {
	return w.pool.runJob(ctx, job)
}

func NewPool(processor JobProcessor, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: processor,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		log:       log.With().Str("component", "job_pool").Logger(),
		dlq:       make(chan *stream.Job, 100),
	}
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	worker := &jobWorker{pool: p}
	p.group = pool.New[*stream.Job](p.config.Workers, worker).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.dlqWg.Add(1)
	go p.dlqDrain()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("batch_size", p.config.BatchSize).
		Msg("job pool started")
	return nil
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := p.group.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing job pool")
	}

	p.cancel()
	close(p.dlq)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.Processed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.Failed)).
		Msg("job pool stopped")
}

// Submit queues a job. Returns false when the pool is not running.
func (p *Pool) Submit(job *stream.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.group == nil {
		return false
	}
	p.group.Submit(job)
	return true
}

func (p *Pool) runJob(ctx context.Context, job *stream.Job) error {
	timeout := p.config.JobTimeout
	if t, ok := p.config.JobTimeoutByType[job.Type]; ok {
		timeout = t
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.processor.Process(jobCtx, job)
	if err == nil {
		atomic.AddInt64(&p.metrics.Processed, 1)
		return nil
	}

	p.log.Error().
		Err(err).
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int("retries", job.Retries).
		Msg("job failed")

	if job.Retries < maxJobRetries {
		job.Retries++
		atomic.AddInt64(&p.metrics.Retried, 1)

		// Exponential backoff with jitter to keep retries from bunching.
		backoff := time.Duration(1<<job.Retries)*time.Second +
			time.Duration(rand.Intn(500))*time.Millisecond
		time.AfterFunc(backoff, func() {
			p.Submit(job)
		})
		return err
	}

	atomic.AddInt64(&p.metrics.Failed, 1)
	select {
	case p.dlq <- job:
	default:
		p.log.Error().Str("job_id", job.ID).Msg("dead-letter queue full, job lost")
	}
	return err
}

// dlqDrain logs jobs that exhausted their retries so they can be replayed
// by hand.
func (p *Pool) dlqDrain() {
	defer p.dlqWg.Done()

	for job := range p.dlq {
		p.log.Error().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Interface("payload", job.Payload).
			Msg("job permanently failed")
	}
}

func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		Processed: atomic.LoadInt64(&p.metrics.Processed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Retried:   atomic.LoadInt64(&p.metrics.Retried),
	}
}
