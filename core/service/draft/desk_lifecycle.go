package draft

import (
	"context"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultStatusRetries = 3
	statusRetryDelay     = 200 * time.Millisecond
)

// Lifecycle persists, sends, or discards candidate responses and guarantees
// at-most-once delivery per chat record.
type Lifecycle struct {
	chats         out.ChatRepository
	mailboxes     out.MailboxRepository
	provider      out.EmailProviderPort
	statusRetries int
}

func NewLifecycle(chats out.ChatRepository, mailboxes out.MailboxRepository, provider out.EmailProviderPort, statusRetries int) *Lifecycle {
	if statusRetries <= 0 {
		statusRetries = defaultStatusRetries
	}
	return &Lifecycle{
		chats:         chats,
		mailboxes:     mailboxes,
		provider:      provider,
		statusRetries: statusRetries,
	}
}

// StoreDraft upserts the draft text and references. Records that already
// auto-responded are terminal and refuse further drafts.
func (l *Lifecycle) StoreDraft(ctx context.Context, chatID uuid.UUID, text string, references []string) error {
	rec, err := l.chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if rec.AutoResponded {
		return apperr.DraftConsumed(chatID.String())
	}
	return l.chats.UpsertDraft(ctx, chatID, text, references)
}

// Send dispatches the stored draft as a threaded reply to the original
// sender and marks the record auto-responded.
//
// The call is retry-safe. Before dispatching it asks the provider whether a
// reply to this message already exists in the thread, which catches the
// crash window where a previous dispatch succeeded but the status update
// did not. The status update itself is retried a bounded number of times
// because leaving a sent record un-marked is what causes duplicate sends.
func (l *Lifecycle) Send(ctx context.Context, chatID uuid.UUID) (*domain.SendReceipt, error) {
	rec, err := l.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !rec.HasDraft() {
		return nil, apperr.NoDraftAvailable(chatID.String())
	}

	mb, err := l.mailboxes.GetPrimaryForOrg(ctx, rec.OrgID)
	if err != nil {
		return nil, apperr.DatabaseError("get sending mailbox", err)
	}

	if receipt, err := l.provider.WasReplySent(ctx, mb, rec.ThreadID, rec.MessageID); err != nil {
		logger.WithError(err).Warn("Re-send detection failed for chat %s, proceeding with dispatch", chatID)
	} else if receipt != nil {
		logger.WithField("chat_id", chatID.String()).
			Info("Reply already dispatched, reconciling status without resending")
		if err := l.markResponded(ctx, chatID); err != nil {
			return nil, err
		}
		return receipt, nil
	}

	subject := rec.Subject
	if subject == "" {
		subject = "Support Request"
	}

	receipt, err := l.provider.SendReply(ctx, mb, &domain.OutboundReply{
		ThreadID:  rec.ThreadID,
		InReplyTo: rec.MessageID,
		To:        []string{rec.FromAddress},
		Subject:   "Re: " + subject,
		HTMLBody:  *rec.DraftResponse,
	})
	if err != nil {
		return nil, apperr.ProviderError("send reply", err)
	}

	if err := l.markResponded(ctx, chatID); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]any{
		"chat_id":    chatID.String(),
		"message_id": receipt.MessageID,
	}).Info("Draft response sent")
	return receipt, nil
}

// markResponded flips auto_responded with bounded retries.
func (l *Lifecycle) markResponded(ctx context.Context, chatID uuid.UUID) error {
	var lastErr error
	for attempt := 0; attempt < l.statusRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(statusRetryDelay << attempt)
		}
		if lastErr = l.chats.MarkAutoResponded(ctx, chatID); lastErr == nil {
			return nil
		}
		logger.WithError(lastErr).Warn("Failed to mark chat %s auto-responded (attempt %d/%d)",
			chatID, attempt+1, l.statusRetries)
	}
	return apperr.DatabaseError("mark auto-responded", lastErr)
}

// Discard clears the draft. Already sent or already discarded records are
// a silent no-op.
func (l *Lifecycle) Discard(ctx context.Context, chatID uuid.UUID) error {
	rec, err := l.chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if rec.DraftConsumed() {
		return nil
	}
	return l.chats.MarkDiscarded(ctx, chatID)
}

var _ in.DraftService = (*Lifecycle)(nil)
