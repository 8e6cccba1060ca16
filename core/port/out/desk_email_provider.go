package out

import (
	"context"
	"errors"

	"helpdesk_worker/core/domain"
)

// ErrSyncRequired means the provider no longer accepts the stored history
// cursor and the caller must fall back to a bounded recent fetch.
var ErrSyncRequired = errors.New("history cursor expired, full sync required")

// EmailProviderPort is the Gmail-shaped boundary for watch leases, message
// fetch and outbound replies. Every call carries its own timeout via ctx;
// none are retried inline.
type EmailProviderPort interface {
	// Watch registers (or replaces) the push subscription for the mailbox
	// and returns the new lease.
	Watch(ctx context.Context, mb *domain.Mailbox) (*domain.WatchLease, error)

	// StopWatch tears the subscription down. Used on disconnect.
	StopWatch(ctx context.Context, mb *domain.Mailbox) error

	// ListMessagesSince returns message ids added after the history cursor.
	// A cursor the provider no longer recognizes returns ErrSyncRequired.
	ListMessagesSince(ctx context.Context, mb *domain.Mailbox, cursor string) (ids []string, nextCursor string, err error)

	// ListRecentMessages is the bounded fallback when no cursor is known.
	ListRecentMessages(ctx context.Context, mb *domain.Mailbox, limit int) ([]string, error)

	// GetMessage fetches one full message.
	GetMessage(ctx context.Context, mb *domain.Mailbox, messageID string) (*domain.InboundMessage, error)

	// WasReplySent checks for an existing outbound message in the thread
	// replying to inReplyTo. Backs idempotent re-send detection.
	WasReplySent(ctx context.Context, mb *domain.Mailbox, threadID, inReplyTo string) (*domain.SendReceipt, error)

	// SendReply dispatches a threaded reply.
	SendReply(ctx context.Context, mb *domain.Mailbox, reply *domain.OutboundReply) (*domain.SendReceipt, error)
}
