package out

import (
	"context"

	"helpdesk_worker/core/domain"

	"github.com/google/uuid"
)

// MessageArchivePort stores raw provider messages for audit and re-parse.
// Backed by MongoDB; losing the archive must never block the pipeline.
type MessageArchivePort interface {
	Store(ctx context.Context, orgID uuid.UUID, msg *domain.InboundMessage) error
	Get(ctx context.Context, orgID uuid.UUID, messageID string) (*domain.InboundMessage, error)
}
