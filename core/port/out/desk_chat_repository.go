package out

import (
	"context"

	"helpdesk_worker/core/domain"

	"github.com/google/uuid"
)

// ChatRepository persists per-message chat records. (org_id, message_id)
// carries the uniqueness constraint that backs notification dedup.
type ChatRepository interface {
	Create(ctx context.Context, rec *domain.ChatRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ChatRecord, error)
	GetByMessageID(ctx context.Context, orgID uuid.UUID, messageID string) (*domain.ChatRecord, error)
	Exists(ctx context.Context, orgID uuid.UUID, messageID string) (bool, error)

	UpdateClassification(ctx context.Context, id uuid.UUID, result domain.ClassificationResult) error
	MarkPromotional(ctx context.Context, id uuid.UUID) error

	// UpsertDraft stores draft text and references; it must refuse rows that
	// are already auto-responded.
	UpsertDraft(ctx context.Context, id uuid.UUID, text string, references []string) error
	MarkAutoResponded(ctx context.Context, id uuid.UUID) error
	MarkDiscarded(ctx context.Context, id uuid.UUID) error

	// ListUnclassified feeds the recovery sweep: records still labeled
	// unknown with no draft and no auto-response.
	ListUnclassified(ctx context.Context, limit int) ([]*domain.ChatRecord, error)
}
