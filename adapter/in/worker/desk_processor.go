package worker

import (
	"context"
	"fmt"
	"sync"

	"helpdesk_worker/core/port/in"
	"helpdesk_worker/internal/stream"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Processor dispatches decoded stream jobs to the services. One instance
// serves both streams; the job type selects the path.
type Processor struct {
	inbound   in.InboundService
	knowledge in.KnowledgeService
}

func NewProcessor(inbound in.InboundService, knowledge in.KnowledgeService) *Processor {
	return &Processor{
		inbound:   inbound,
		knowledge: knowledge,
	}
}

var _ JobProcessor = (*Processor)(nil)

func (p *Processor) Process(ctx context.Context, job *stream.Job) error {
	switch job.Type {
	case "inbound.notification":
		return p.processNotification(ctx, job)
	case "knowledge.import":
		return p.processImport(ctx, job)
	default:
		// Unknown types are dropped, not retried: redelivery cannot fix them.
		logger.Warn("Dropping job %s with unknown type %q", job.ID, job.Type)
		return nil
	}
}

func (p *Processor) processNotification(ctx context.Context, job *stream.Job) error {
	email, _ := job.Payload["email_address"].(string)
	if email == "" {
		logger.Warn("Dropping notification job %s without email address", job.ID)
		return nil
	}

	outcome, err := p.inbound.PollMailbox(ctx, email)
	if err != nil {
		return fmt.Errorf("poll mailbox %s: %w", email, err)
	}

	logger.WithFields(map[string]any{
		"job_id":    job.ID,
		"mailbox":   email,
		"fetched":   outcome.Fetched,
		"processed": outcome.Processed,
		"skipped":   outcome.Skipped,
		"failed":    outcome.Failed,
	}).Info("Notification job done")
	return nil
}

func (p *Processor) processImport(ctx context.Context, job *stream.Job) error {
	raw, _ := job.Payload["job_id"].(string)
	jobID, err := uuid.Parse(raw)
	if err != nil {
		logger.Warn("Dropping import job %s with bad job id %q", job.ID, raw)
		return nil
	}
	return p.knowledge.RunImport(ctx, jobID)
}

// Consumer feeds stream messages into the pool. Messages are acked by the
// stream layer only after the handler returns nil, so a submit into a
// stopped pool stays pending for redelivery.
type Consumer struct {
	stream   *stream.RedisStream
	pool     *Pool
	consumer string
}

func NewConsumer(rs *stream.RedisStream, pool *Pool, consumerName string) *Consumer {
	return &Consumer{
		stream:   rs,
		pool:     pool,
		consumer: consumerName,
	}
}

// Run consumes both streams until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for _, s := range []string{stream.StreamInbound, stream.StreamKnowledge} {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			return fmt.Errorf("create group for %s: %w", s, err)
		}
	}

	var wg sync.WaitGroup
	for _, s := range []string{stream.StreamInbound, stream.StreamKnowledge} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			c.stream.Consume(ctx, name, c.consumer, c.handle)
		}(s)
	}
	wg.Wait()
	return nil
}

func (c *Consumer) handle(id string, data []byte) error {
	var job stream.Job
	if err := json.Unmarshal(data, &job); err != nil {
		// Garbage on the stream is acked and dropped.
		logger.WithError(err).Warn("Skipping undecodable stream message %s", id)
		return nil
	}

	if !c.pool.Submit(&job) {
		return fmt.Errorf("pool not accepting jobs")
	}
	return nil
}
