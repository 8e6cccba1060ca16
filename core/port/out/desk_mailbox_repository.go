package out

import (
	"context"
	"time"

	"helpdesk_worker/core/domain"

	"github.com/google/uuid"
)

// MailboxRepository persists connected mailboxes and their watch leases.
type MailboxRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Mailbox, error)
	GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error)

	// GetPrimaryForOrg returns the mailbox outbound replies go through,
	// the oldest connected mailbox with credentials.
	GetPrimaryForOrg(ctx context.Context, orgID uuid.UUID) (*domain.Mailbox, error)

	// ListRenewable returns mailboxes with credentials whose watch is active
	// or failed and expires within the horizon (or never got one).
	ListRenewable(ctx context.Context, horizon time.Duration) ([]*domain.Mailbox, error)

	UpdateWatchStatus(ctx context.Context, id int64, status domain.WatchStatus) error
	UpdateWatchLease(ctx context.Context, id int64, lease *domain.WatchLease) error
	IncrementWatchFailures(ctx context.Context, id int64) error
	UpdateHistoryCursor(ctx context.Context, id int64, cursor string) error

	// SaveCredentials persists refreshed OAuth tokens.
	SaveCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error
	ClearCredentials(ctx context.Context, id int64) error
}
