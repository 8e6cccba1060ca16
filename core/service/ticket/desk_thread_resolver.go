package ticket

import (
	"context"
	"strings"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"

	"github.com/google/uuid"
)

// ThreadResolver anchors inbound messages to tickets. It is the only place
// conversation invariants are enforced: one ticket per (org, thread id),
// and closed tickets reopen only within the grace period. It runs before
// classification so every chat record lands on a valid ticket.
type ThreadResolver struct {
	tickets     out.TicketRepository
	gracePeriod time.Duration
	now         func() time.Time
}

func NewThreadResolver(tickets out.TicketRepository, gracePeriodDays int) *ThreadResolver {
	if gracePeriodDays <= 0 {
		gracePeriodDays = domain.GracePeriodDays
	}
	return &ThreadResolver{
		tickets:     tickets,
		gracePeriod: time.Duration(gracePeriodDays) * 24 * time.Hour,
		now:         time.Now,
	}
}

// Resolve finds or creates the ticket for the message's thread.
//
// A closed ticket updated within the grace period transitions back to open.
// Past the window the ticket stays closed but the message still attaches to
// it; correspondence is never dropped.
func (r *ThreadResolver) Resolve(ctx context.Context, email *domain.ParsedEmail, orgID uuid.UUID) (*domain.ResolvedThread, error) {
	existing, err := r.tickets.GetByThread(ctx, orgID, email.ThreadID)
	if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
		return nil, apperr.DatabaseError("lookup ticket by thread", err)
	}

	if existing != nil {
		resolved := &domain.ResolvedThread{TicketID: existing.ID}

		if existing.Status == domain.TicketClosed {
			if existing.IsWithinGracePeriod(r.now(), r.gracePeriod) {
				if err := r.tickets.UpdateStatus(ctx, existing.ID, domain.TicketOpen); err != nil {
					return nil, apperr.DatabaseError("reopen ticket", err)
				}
				resolved.Reopened = true
				logger.WithFields(map[string]any{
					"ticket_id":  existing.ID.String(),
					"message_id": email.MessageID,
				}).Info("Ticket reopened within grace period")
			} else {
				logger.WithField("ticket_id", existing.ID.String()).
					Info("Ticket outside grace period, attaching without reopening")
			}
			return resolved, nil
		}

		if err := r.tickets.Touch(ctx, existing.ID); err != nil {
			logger.WithError(err).Warn("Failed to touch ticket %s", existing.ID)
		}
		return resolved, nil
	}

	customer, err := r.tickets.GetOrCreateCustomer(ctx, orgID, email.FromEmail, displayName(email))
	if err != nil {
		return nil, apperr.DatabaseError("get or create customer", err)
	}

	subject := email.Subject
	if subject == "" {
		subject = "(No subject)"
	}

	// The (org_id, thread_id) unique constraint makes this race-safe: a
	// concurrent message on the same thread creates once, the loser gets
	// the existing row back.
	created, isNew, err := r.tickets.GetOrCreate(ctx, &domain.Ticket{
		ID:         uuid.New(),
		OrgID:      orgID,
		CustomerID: customer.ID,
		ThreadID:   email.ThreadID,
		Subject:    subject,
		Status:     domain.TicketOpen,
	})
	if err != nil {
		return nil, apperr.DatabaseError("create ticket", err)
	}

	return &domain.ResolvedThread{TicketID: created.ID, IsNew: isNew}, nil
}

func displayName(email *domain.ParsedEmail) string {
	if email.FromName != "" {
		return email.FromName
	}
	if at := strings.IndexByte(email.FromEmail, '@'); at > 0 {
		return email.FromEmail[:at]
	}
	return email.FromEmail
}
