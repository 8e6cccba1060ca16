package watch

import (
	"context"
	"sync"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"
)

const renewConcurrency = 8

// LeaseManager owns the lifecycle of every mailbox's push-notification
// subscription. It is the only writer of mailbox watch state.
type LeaseManager struct {
	mailboxes out.MailboxRepository
	provider  out.EmailProviderPort
	horizon   time.Duration
}

func NewLeaseManager(mailboxes out.MailboxRepository, provider out.EmailProviderPort, horizon time.Duration) *LeaseManager {
	if horizon == 0 {
		horizon = time.Hour
	}
	return &LeaseManager{
		mailboxes: mailboxes,
		provider:  provider,
		horizon:   horizon,
	}
}

// EnsureWatch renews the mailbox's watch if it is missing, failed, or
// expiring within the horizon. A healthy lease is a no-op.
func (m *LeaseManager) EnsureWatch(ctx context.Context, mailboxID int64) error {
	mb, err := m.mailboxes.GetByID(ctx, mailboxID)
	if err != nil {
		return apperr.DatabaseError("get mailbox", err)
	}
	return m.ensure(ctx, mb)
}

func (m *LeaseManager) ensure(ctx context.Context, mb *domain.Mailbox) error {
	if !mb.HasCredentials() {
		return apperr.MissingCredentials(mb.EmailAddress)
	}
	if !mb.NeedsRenewal(m.horizon) {
		return nil
	}

	// none/active/failed -> pending while the provider call is in flight
	if err := m.mailboxes.UpdateWatchStatus(ctx, mb.ID, domain.WatchPending); err != nil {
		return apperr.DatabaseError("mark watch pending", err)
	}

	lease, err := m.provider.Watch(ctx, mb)
	if err != nil {
		if statusErr := m.mailboxes.UpdateWatchStatus(ctx, mb.ID, domain.WatchFailed); statusErr != nil {
			logger.WithError(statusErr).Error("Failed to mark watch failed for mailbox %d", mb.ID)
		}
		if cntErr := m.mailboxes.IncrementWatchFailures(ctx, mb.ID); cntErr != nil {
			logger.WithError(cntErr).Warn("Failed to bump watch failure count for mailbox %d", mb.ID)
		}
		return apperr.ProviderError("watch", err)
	}

	if err := m.mailboxes.UpdateWatchLease(ctx, mb.ID, lease); err != nil {
		return apperr.DatabaseError("store watch lease", err)
	}
	mb.WatchStatus = domain.WatchActive
	mb.WatchExpiresAt = &lease.ExpiresAt
	mb.WatchResourceID = lease.ResourceID

	logger.WithFields(map[string]any{
		"mailbox_id": mb.ID,
		"email":      mb.EmailAddress,
		"expires_at": lease.ExpiresAt,
	}).Info("Watch lease renewed")
	return nil
}

// RenewAll renews every renewable mailbox in parallel. Each mailbox's
// outcome is independent; provider errors are logged and reported in the
// summary, never raised to the caller.
func (m *LeaseManager) RenewAll(ctx context.Context) (*domain.RenewalSummary, error) {
	mailboxes, err := m.mailboxes.ListRenewable(ctx, m.horizon)
	if err != nil {
		return nil, apperr.DatabaseError("list renewable mailboxes", err)
	}

	outcomes := make([]domain.RenewalOutcome, len(mailboxes))
	sem := make(chan struct{}, renewConcurrency)
	var wg sync.WaitGroup

	for i, mb := range mailboxes {
		wg.Add(1)
		go func(i int, mb *domain.Mailbox) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := domain.RenewalOutcome{MailboxID: mb.ID, Email: mb.EmailAddress}

			if !mb.HasCredentials() {
				outcome.Status = "skipped"
				outcome.Error = "missing credentials"
				outcomes[i] = outcome
				return
			}

			if err := m.ensure(ctx, mb); err != nil {
				logger.WithError(err).WithField("email", mb.EmailAddress).
					Error("Watch renewal failed for mailbox %d", mb.ID)
				outcome.Status = "failed"
				outcome.Error = err.Error()
			} else {
				outcome.Status = "renewed"
				if mb.WatchExpiresAt != nil {
					outcome.ExpiresAt = *mb.WatchExpiresAt
				}
			}
			outcomes[i] = outcome
		}(i, mb)
	}
	wg.Wait()

	summary := &domain.RenewalSummary{Total: len(outcomes), Results: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case "renewed":
			summary.Renewed++
		case "failed":
			summary.Failed++
		case "skipped":
			summary.Skipped++
		}
	}

	logger.Info("Watch renewal batch done: %d renewed, %d failed, %d skipped",
		summary.Renewed, summary.Failed, summary.Skipped)
	return summary, nil
}

// Disconnect tears down the watch and clears credentials. Provider teardown
// failures are logged but do not keep credentials around.
func (m *LeaseManager) Disconnect(ctx context.Context, mailboxID int64) error {
	mb, err := m.mailboxes.GetByID(ctx, mailboxID)
	if err != nil {
		return apperr.DatabaseError("get mailbox", err)
	}

	if mb.HasCredentials() {
		if err := m.provider.StopWatch(ctx, mb); err != nil {
			logger.WithError(err).Warn("Failed to stop watch for mailbox %d", mb.ID)
		}
	}

	if err := m.mailboxes.UpdateWatchStatus(ctx, mb.ID, domain.WatchNone); err != nil {
		return apperr.DatabaseError("reset watch status", err)
	}
	if err := m.mailboxes.ClearCredentials(ctx, mb.ID); err != nil {
		return apperr.DatabaseError("clear credentials", err)
	}

	logger.WithField("mailbox_id", mb.ID).Info("Mailbox disconnected")
	return nil
}

var _ in.WatchService = (*LeaseManager)(nil)
