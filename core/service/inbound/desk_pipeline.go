package inbound

import (
	"context"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/core/service/draft"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"

	"github.com/google/uuid"
)

// Stage dependencies are narrow interfaces so tests can fake a single stage
// without standing up the whole agent layer.

type classifierStage interface {
	Classify(ctx context.Context, body string) domain.ClassificationResult
}

type responderStage interface {
	Generate(ctx context.Context, query, orgID string, topK int) domain.RagResult
}

type draftStage interface {
	StoreDraft(ctx context.Context, chatID uuid.UUID, text string, references []string) error
	Send(ctx context.Context, chatID uuid.UUID) (*domain.SendReceipt, error)
}

type threadResolverStage interface {
	Resolve(ctx context.Context, email *domain.ParsedEmail, orgID uuid.UUID) (*domain.ResolvedThread, error)
}

// Pipeline runs one inbound message through the full stage chain:
// archive, normalize, resolve ticket, store, promo filter, classify,
// retrieve, draft, auto-send gate.
//
// Stages after storage degrade rather than fail: a classification or
// retrieval problem must never lose the message or the ticket.
type Pipeline struct {
	chats      out.ChatRepository
	archive    out.MessageArchivePort
	normalizer *Normalizer
	resolver   threadResolverStage
	classifier classifierStage
	responder  responderStage
	drafts     draftStage

	topK      int
	threshold int
}

func NewPipeline(
	chats out.ChatRepository,
	archive out.MessageArchivePort,
	resolver threadResolverStage,
	classifier classifierStage,
	responder responderStage,
	drafts draftStage,
	topK, threshold int,
) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		chats:      chats,
		archive:    archive,
		normalizer: NewNormalizer(),
		resolver:   resolver,
		classifier: classifier,
		responder:  responder,
		drafts:     drafts,
		topK:       topK,
		threshold:  threshold,
	}
}

// Process handles a single fetched message end to end. The caller has
// already deduplicated on (org, message id).
func (p *Pipeline) Process(ctx context.Context, mb *domain.Mailbox, msg *domain.InboundMessage) (*domain.ProcessOutcome, error) {
	if p.archive != nil {
		if err := p.archive.Store(ctx, mb.OrgID, msg); err != nil {
			logger.WithError(err).Warn("Raw message archive failed for %s", msg.MessageID)
		}
	}

	parsed := p.normalizer.Normalize(msg)

	resolved, err := p.resolver.Resolve(ctx, parsed, mb.OrgID)
	if err != nil {
		return nil, err
	}

	rec := &domain.ChatRecord{
		ID:             uuid.New(),
		TicketID:       resolved.TicketID,
		OrgID:          mb.OrgID,
		MessageID:      parsed.MessageID,
		ThreadID:       parsed.ThreadID,
		Direction:      domain.DirectionInbound,
		FromName:       parsed.FromName,
		FromAddress:    parsed.FromEmail,
		ToAddresses:    parsed.To,
		CcAddresses:    parsed.Cc,
		Subject:        parsed.Subject,
		Body:           parsed.Body(),
		SentAt:         parsed.Date,
		Classification: domain.LabelUnknown,
		Confidence:     0,
	}
	if err := p.chats.Create(ctx, rec); err != nil {
		if apperr.IsCode(err, apperr.CodeAlreadyExists) {
			// Lost a race with a concurrent notification for the same message.
			return &domain.ProcessOutcome{Skipped: true, SkipReason: "duplicate"}, nil
		}
		return nil, apperr.DatabaseError("create chat record", err)
	}

	outcome := &domain.ProcessOutcome{
		ChatID:   rec.ID.String(),
		TicketID: resolved.TicketID.String(),
	}

	if IsPromotional(msg, parsed) {
		if err := p.chats.MarkPromotional(ctx, rec.ID); err != nil {
			logger.WithError(err).Warn("Failed to mark chat %s promotional", rec.ID)
		}
		outcome.Skipped = true
		outcome.SkipReason = "promotional"
		return outcome, nil
	}

	body := StripHTML(parsed.Body())

	result := p.classifier.Classify(ctx, body)
	if err := p.chats.UpdateClassification(ctx, rec.ID, result); err != nil {
		logger.WithError(err).Warn("Failed to store classification for chat %s", rec.ID)
	}
	outcome.Label = result.Label
	outcome.Confidence = result.Confidence

	// Retrieval only runs for messages that need a reply.
	if result.Label != domain.LabelShouldRespond {
		outcome.Skipped = true
		outcome.SkipReason = string(result.Label)
		return outcome, nil
	}

	rag := p.responder.Generate(ctx, body, mb.OrgID.String(), p.topK)

	if err := p.drafts.StoreDraft(ctx, rec.ID, rag.Answer, rag.References); err != nil {
		return outcome, err
	}
	outcome.DraftStored = true
	outcome.Confidence = rag.Confidence

	if draft.Decide(rag.Confidence, p.threshold).AutoSend {
		if _, err := p.drafts.Send(ctx, rec.ID); err != nil {
			// The draft stays stored for manual review.
			logger.WithError(err).Warn("Auto-send failed for chat %s, keeping draft", rec.ID)
		} else {
			outcome.AutoResponded = true
		}
	}
	return outcome, nil
}

// Reclassify re-runs the classification and drafting stages for a stored
// record, used by the recovery sweep for messages stuck on unknown.
func (p *Pipeline) Reclassify(ctx context.Context, rec *domain.ChatRecord) (*domain.ProcessOutcome, error) {
	outcome := &domain.ProcessOutcome{
		ChatID:   rec.ID.String(),
		TicketID: rec.TicketID.String(),
	}
	if rec.DraftConsumed() {
		outcome.Skipped = true
		outcome.SkipReason = "already handled"
		return outcome, nil
	}

	body := StripHTML(rec.Body)

	result := p.classifier.Classify(ctx, body)
	if err := p.chats.UpdateClassification(ctx, rec.ID, result); err != nil {
		return nil, apperr.DatabaseError("store classification", err)
	}
	outcome.Label = result.Label
	outcome.Confidence = result.Confidence

	if result.Label != domain.LabelShouldRespond {
		outcome.Skipped = true
		outcome.SkipReason = string(result.Label)
		return outcome, nil
	}

	rag := p.responder.Generate(ctx, body, rec.OrgID.String(), p.topK)
	if err := p.drafts.StoreDraft(ctx, rec.ID, rag.Answer, rag.References); err != nil {
		return outcome, err
	}
	outcome.DraftStored = true
	outcome.Confidence = rag.Confidence

	if draft.Decide(rag.Confidence, p.threshold).AutoSend {
		if _, err := p.drafts.Send(ctx, rec.ID); err != nil {
			logger.WithError(err).Warn("Auto-send failed for chat %s, keeping draft", rec.ID)
		} else {
			outcome.AutoResponded = true
		}
	}
	return outcome, nil
}
