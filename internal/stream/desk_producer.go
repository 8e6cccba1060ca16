package stream

import (
	"context"
	"time"

	"helpdesk_worker/core/port/out"

	"github.com/google/uuid"
)

// Producer publishes background jobs onto Redis streams. The webhook
// handler stays thin: it validates, enqueues, and acknowledges, while the
// worker pool does the provider round-trips.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

// Job is the envelope every stream message carries.
type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Retries   int            `json:"retries"`
	CreatedAt time.Time      `json:"created_at"`
}

// PublishNotification enqueues a decoded push notification.
func (p *Producer) PublishNotification(ctx context.Context, emailAddress, historyID string) (string, error) {
	job := &Job{
		ID:   uuid.New().String(),
		Type: "inbound.notification",
		Payload: map[string]any{
			"email_address": emailAddress,
			"history_id":    historyID,
		},
		CreatedAt: time.Now(),
	}
	return p.stream.Publish(ctx, StreamInbound, job)
}

// PublishKnowledgeImport enqueues a knowledge-base import job.
func (p *Producer) PublishKnowledgeImport(ctx context.Context, jobID, orgID uuid.UUID) (string, error) {
	job := &Job{
		ID:   uuid.New().String(),
		Type: "knowledge.import",
		Payload: map[string]any{
			"job_id": jobID.String(),
			"org_id": orgID.String(),
		},
		CreatedAt: time.Now(),
	}
	return p.stream.Publish(ctx, StreamKnowledge, job)
}

var _ out.MessagePublisher = (*Producer)(nil)
