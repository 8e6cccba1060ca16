package out

import (
	"context"

	"github.com/google/uuid"
)

// MessagePublisher enqueues background jobs onto the stream queue.
type MessagePublisher interface {
	// PublishNotification enqueues a decoded push notification for the
	// worker pool.
	PublishNotification(ctx context.Context, emailAddress, historyID string) (string, error)

	// PublishKnowledgeImport enqueues a knowledge-base import job.
	PublishKnowledgeImport(ctx context.Context, jobID, orgID uuid.UUID) (string, error)
}
