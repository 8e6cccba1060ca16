package out

import (
	"context"

	"helpdesk_worker/core/domain"

	"github.com/google/uuid"
)

// TicketRepository persists tickets and customers. GetOrCreate rides the
// (org_id, thread_id) uniqueness constraint so two concurrent messages on
// the same thread cannot race into duplicate tickets; the loser re-reads
// the existing row.
type TicketRepository interface {
	GetByThread(ctx context.Context, orgID uuid.UUID, threadID string) (*domain.Ticket, error)
	GetOrCreate(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TicketStatus) error
	Touch(ctx context.Context, id uuid.UUID) error

	GetOrCreateCustomer(ctx context.Context, orgID uuid.UUID, email, displayName string) (*domain.Customer, error)
}
