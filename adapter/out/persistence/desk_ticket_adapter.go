package persistence

import (
	"context"
	"database/sql"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TicketAdapter implements out.TicketRepository using PostgreSQL.
type TicketAdapter struct {
	db *sqlx.DB
}

// NewTicketAdapter creates a new TicketAdapter.
func NewTicketAdapter(db *sqlx.DB) *TicketAdapter {
	return &TicketAdapter{db: db}
}

const ticketColumns = `id, org_id, customer_id, thread_id, subject, status, created_at, updated_at`

type ticketRow struct {
	ID         uuid.UUID `db:"id"`
	OrgID      uuid.UUID `db:"org_id"`
	CustomerID uuid.UUID `db:"customer_id"`
	ThreadID   string    `db:"thread_id"`
	Subject    string    `db:"subject"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *ticketRow) toEntity() *domain.Ticket {
	return &domain.Ticket{
		ID:         r.ID,
		OrgID:      r.OrgID,
		CustomerID: r.CustomerID,
		ThreadID:   r.ThreadID,
		Subject:    r.Subject,
		Status:     domain.TicketStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// GetByThread gets the ticket anchored to a provider thread.
func (a *TicketAdapter) GetByThread(ctx context.Context, orgID uuid.UUID, threadID string) (*domain.Ticket, error) {
	var row ticketRow
	err := a.db.QueryRowxContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE org_id = $1 AND thread_id = $2",
		orgID, threadID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("ticket")
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// GetOrCreate inserts the ticket, riding the (org_id, thread_id) unique
// constraint. The conflict loser re-reads and returns the winner's row.
func (a *TicketAdapter) GetOrCreate(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error) {
	var row ticketRow
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO tickets (id, org_id, customer_id, thread_id, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, thread_id) DO NOTHING
		RETURNING `+ticketColumns,
		t.ID, t.OrgID, t.CustomerID, t.ThreadID, t.Subject, string(t.Status)).StructScan(&row)

	if err == nil {
		return row.toEntity(), true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	// DO NOTHING returned no row: someone else created it first.
	existing, err := a.GetByThread(ctx, t.OrgID, t.ThreadID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateStatus transitions the ticket status.
func (a *TicketAdapter) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TicketStatus) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE tickets SET status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	return err
}

// Touch bumps updated_at for activity on an open ticket.
func (a *TicketAdapter) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.ExecContext(ctx,
		"UPDATE tickets SET updated_at = NOW() WHERE id = $1", id)
	return err
}

// GetOrCreateCustomer upserts the customer keyed by (org_id, email).
func (a *TicketAdapter) GetOrCreateCustomer(ctx context.Context, orgID uuid.UUID, email, displayName string) (*domain.Customer, error) {
	var c domain.Customer
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO customers (id, org_id, email, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, org_id, email, display_name, created_at`,
		uuid.New(), orgID, email, displayName).
		Scan(&c.ID, &c.OrgID, &c.Email, &c.DisplayName, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ out.TicketRepository = (*TicketAdapter)(nil)
