package inbound

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
)

const defaultRecentWindow = 10

// pushEnvelope is the Pub/Sub push wrapper around a Gmail notification.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the decoded payload inside the envelope.
type gmailNotification struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// Router is the single ingestion path for inbound mail. Push notifications,
// the cron poll, and the recovery sweep all funnel into the same
// fetch-dedup-process loop, so a message is handled identically regardless
// of how its arrival was noticed.
type Router struct {
	mailboxes out.MailboxRepository
	chats     out.ChatRepository
	provider  out.EmailProviderPort
	pipeline  *Pipeline

	recentWindow int
}

func NewRouter(mailboxes out.MailboxRepository, chats out.ChatRepository, provider out.EmailProviderPort, pipeline *Pipeline, recentWindow int) *Router {
	if recentWindow <= 0 {
		recentWindow = defaultRecentWindow
	}
	return &Router{
		mailboxes:    mailboxes,
		chats:        chats,
		provider:     provider,
		pipeline:     pipeline,
		recentWindow: recentWindow,
	}
}

// HandleNotification decodes a push envelope and processes new messages for
// the referenced mailbox. Only structural problems with the payload are
// errors; a notification for an unknown mailbox or an empty batch is a
// normal, empty outcome so the transport can acknowledge it.
func (r *Router) HandleNotification(ctx context.Context, payload []byte) (*domain.BatchOutcome, error) {
	notif, err := decodeNotification(payload)
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]any{
		"email":      notif.EmailAddress,
		"history_id": notif.historyID(),
	}).Debug("Push notification received")

	mb, err := r.mailboxes.GetByEmail(ctx, notif.EmailAddress)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			logger.WithField("email", notif.EmailAddress).
				Warn("Notification for unknown mailbox, acknowledging")
			return &domain.BatchOutcome{}, nil
		}
		return nil, apperr.DatabaseError("lookup mailbox", err)
	}

	return r.drain(ctx, mb)
}

// PollMailbox runs the fetch-and-process loop without a push payload.
func (r *Router) PollMailbox(ctx context.Context, emailAddress string) (*domain.BatchOutcome, error) {
	mb, err := r.mailboxes.GetByEmail(ctx, emailAddress)
	if err != nil {
		return nil, err
	}
	return r.drain(ctx, mb)
}

// drain fetches new message ids, processes each with per-message error
// isolation, and advances the history cursor only after the whole batch has
// been handled. A crash mid-batch replays from the old cursor; dedup on
// (org, message id) absorbs the replays.
func (r *Router) drain(ctx context.Context, mb *domain.Mailbox) (*domain.BatchOutcome, error) {
	ids, nextCursor, err := r.listNew(ctx, mb)
	if err != nil {
		return nil, err
	}

	outcome := &domain.BatchOutcome{Fetched: len(ids)}
	for _, id := range ids {
		po, err := r.processOne(ctx, mb, id)
		switch {
		case err != nil:
			outcome.Failed++
			logger.WithError(err).WithFields(map[string]any{
				"mailbox":    mb.EmailAddress,
				"message_id": id,
			}).Error("Message processing failed")
		case po.Skipped:
			outcome.Skipped++
			outcome.Outcomes = append(outcome.Outcomes, *po)
		default:
			outcome.Processed++
			outcome.Outcomes = append(outcome.Outcomes, *po)
		}
	}

	if nextCursor != "" && nextCursor != mb.HistoryCursor {
		if err := r.mailboxes.UpdateHistoryCursor(ctx, mb.ID, nextCursor); err != nil {
			logger.WithError(err).Warn("Failed to advance history cursor for %s", mb.EmailAddress)
		}
	}

	logger.WithFields(map[string]any{
		"mailbox":   mb.EmailAddress,
		"fetched":   outcome.Fetched,
		"processed": outcome.Processed,
		"skipped":   outcome.Skipped,
		"failed":    outcome.Failed,
	}).Info("Inbound batch handled")
	return outcome, nil
}

// listNew prefers the incremental history fetch; with no cursor, or a
// cursor the provider has forgotten, it falls back to a bounded recent
// window.
func (r *Router) listNew(ctx context.Context, mb *domain.Mailbox) ([]string, string, error) {
	if mb.HistoryCursor != "" {
		ids, next, err := r.provider.ListMessagesSince(ctx, mb, mb.HistoryCursor)
		if err == nil {
			return ids, next, nil
		}
		if !errors.Is(err, out.ErrSyncRequired) {
			return nil, "", apperr.ProviderError("list history", err)
		}
		logger.WithField("mailbox", mb.EmailAddress).
			Warn("History cursor expired, falling back to recent window")
	}

	ids, err := r.provider.ListRecentMessages(ctx, mb, r.recentWindow)
	if err != nil {
		return nil, "", apperr.ProviderError("list recent", err)
	}
	return ids, "", nil
}

func (r *Router) processOne(ctx context.Context, mb *domain.Mailbox, messageID string) (*domain.ProcessOutcome, error) {
	exists, err := r.chats.Exists(ctx, mb.OrgID, messageID)
	if err != nil {
		return nil, apperr.DatabaseError("dedup lookup", err)
	}
	if exists {
		return &domain.ProcessOutcome{Skipped: true, SkipReason: "duplicate"}, nil
	}

	msg, err := r.provider.GetMessage(ctx, mb, messageID)
	if err != nil {
		return nil, apperr.ProviderError("get message", err)
	}
	return r.pipeline.Process(ctx, mb, msg)
}

// SweepUnclassified re-runs classification and drafting for records whose
// first attempt degraded to unknown.
func (r *Router) SweepUnclassified(ctx context.Context, limit int) (*domain.BatchOutcome, error) {
	records, err := r.chats.ListUnclassified(ctx, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list unclassified", err)
	}

	outcome := &domain.BatchOutcome{Fetched: len(records)}
	for _, rec := range records {
		po, err := r.pipeline.Reclassify(ctx, rec)
		switch {
		case err != nil:
			outcome.Failed++
			logger.WithError(err).Warn("Sweep reclassify failed for chat %s", rec.ID)
		case po.Skipped:
			outcome.Skipped++
			outcome.Outcomes = append(outcome.Outcomes, *po)
		default:
			outcome.Processed++
			outcome.Outcomes = append(outcome.Outcomes, *po)
		}
	}
	return outcome, nil
}

// decodeNotification unwraps the base64 data field and parses the inner
// notification. Both layers are structural: any failure is INVALID_PAYLOAD.
func decodeNotification(payload []byte) (*gmailNotification, error) {
	var envelope pushEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, apperr.InvalidPayload("malformed push envelope")
	}
	if envelope.Message.Data == "" {
		return nil, apperr.InvalidPayload("push envelope missing message data")
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		// Pub/Sub uses URL-safe encoding in some delivery paths.
		data, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, apperr.InvalidPayload("message data is not valid base64")
		}
	}

	var notif gmailNotification
	if err := json.Unmarshal(data, &notif); err != nil {
		return nil, apperr.InvalidPayload("decoded data is not valid JSON")
	}
	if notif.EmailAddress == "" {
		return nil, apperr.InvalidPayload("notification missing emailAddress")
	}
	return &notif, nil
}

// historyID renders the notification's history id, which Gmail delivers as
// either a number or a string.
func (n *gmailNotification) historyID() string {
	if len(n.HistoryID) == 0 {
		return ""
	}
	s := string(n.HistoryID)
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}

var _ in.InboundService = (*Router)(nil)
