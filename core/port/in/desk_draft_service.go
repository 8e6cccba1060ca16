package in

import (
	"context"

	"helpdesk_worker/core/domain"

	"github.com/google/uuid"
)

// DraftService manages the candidate-response lifecycle on chat records.
type DraftService interface {
	StoreDraft(ctx context.Context, chatID uuid.UUID, text string, references []string) error

	// Send dispatches the stored draft and marks the record auto-responded.
	// Safe to retry: an already-dispatched reply is detected before any
	// second send.
	Send(ctx context.Context, chatID uuid.UUID) (*domain.SendReceipt, error)

	// Discard clears the draft; no-op if already sent or discarded.
	Discard(ctx context.Context, chatID uuid.UUID) error
}

// KnowledgeService manages knowledge-base imports.
type KnowledgeService interface {
	StartImport(ctx context.Context, orgID uuid.UUID, documents []string) (*domain.ImportJob, error)
	JobStatus(ctx context.Context, jobID uuid.UUID) (*domain.ImportJob, error)
	RunImport(ctx context.Context, jobID uuid.UUID) error
}
