package domain

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the workflow state of a ticket.
type TicketStatus string

const (
	TicketOpen    TicketStatus = "open"
	TicketPending TicketStatus = "pending"
	TicketOnHold  TicketStatus = "on_hold"
	TicketSolved  TicketStatus = "solved"
	TicketClosed  TicketStatus = "closed"
)

// GracePeriodDays is how long after closure a new customer message reopens
// the ticket instead of leaving it closed.
const GracePeriodDays = 30

// Ticket is one customer conversation, keyed by provider thread id within
// an organization. Exactly one ticket exists per (org, thread id).
type Ticket struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	CustomerID uuid.UUID
	ThreadID   string
	Subject    string
	Status     TicketStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsWithinGracePeriod reports whether a closed ticket may still be reopened
// by new correspondence. Open tickets are never "within grace".
func (t *Ticket) IsWithinGracePeriod(now time.Time, gracePeriod time.Duration) bool {
	if t.Status != TicketClosed {
		return false
	}
	return now.Sub(t.UpdatedAt) <= gracePeriod
}

// Customer is the sender identity a ticket is associated with.
type Customer struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// ResolvedThread is the outcome of anchoring a message to a ticket.
type ResolvedThread struct {
	TicketID  uuid.UUID
	IsNew     bool
	Reopened  bool
}
