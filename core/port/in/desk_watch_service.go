package in

import (
	"context"

	"helpdesk_worker/core/domain"
)

// WatchService owns mailbox watch leases.
type WatchService interface {
	// EnsureWatch is idempotent: it renews only when the lease is missing
	// or expiring within the configured horizon.
	EnsureWatch(ctx context.Context, mailboxID int64) error

	// RenewAll renews every renewable mailbox in parallel and reports
	// per-mailbox outcomes. It never fails the batch as a whole.
	RenewAll(ctx context.Context) (*domain.RenewalSummary, error)

	// Disconnect tears down the watch and clears credentials.
	Disconnect(ctx context.Context, mailboxID int64) error
}
