package in

import (
	"context"

	"helpdesk_worker/core/domain"
)

// InboundService is the single entry point for inbound mail, fed by push
// notifications, the cron poll trigger, and the recovery sweep alike.
type InboundService interface {
	// HandleNotification decodes a raw push envelope and processes the
	// affected mailbox. Malformed payloads return an INVALID_PAYLOAD error;
	// everything past decoding is partial-success, never a hard failure.
	HandleNotification(ctx context.Context, payload []byte) (*domain.BatchOutcome, error)

	// PollMailbox runs the same fetch-and-process path without a push
	// payload, for the cron poll trigger.
	PollMailbox(ctx context.Context, emailAddress string) (*domain.BatchOutcome, error)

	// SweepUnclassified re-runs the pipeline over records whose earlier
	// classification attempt failed.
	SweepUnclassified(ctx context.Context, limit int) (*domain.BatchOutcome, error)
}
