package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
)

type fakeChats struct {
	records map[uuid.UUID]*domain.ChatRecord

	upserts       int
	markErrsLeft  int
	markCalls     int
	markSucceeded map[uuid.UUID]bool
	discarded     map[uuid.UUID]bool
}

func newFakeChats(records ...*domain.ChatRecord) *fakeChats {
	f := &fakeChats{
		records:       make(map[uuid.UUID]*domain.ChatRecord),
		markSucceeded: make(map[uuid.UUID]bool),
		discarded:     make(map[uuid.UUID]bool),
	}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeChats) Create(ctx context.Context, rec *domain.ChatRecord) error { return nil }

func (f *fakeChats) GetByID(ctx context.Context, id uuid.UUID) (*domain.ChatRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, apperr.NotFound("chat record")
	}
	return rec, nil
}

func (f *fakeChats) GetByMessageID(ctx context.Context, orgID uuid.UUID, messageID string) (*domain.ChatRecord, error) {
	return nil, apperr.NotFound("chat record")
}

func (f *fakeChats) Exists(ctx context.Context, orgID uuid.UUID, messageID string) (bool, error) {
	return false, nil
}

func (f *fakeChats) UpdateClassification(ctx context.Context, id uuid.UUID, result domain.ClassificationResult) error {
	return nil
}

func (f *fakeChats) MarkPromotional(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeChats) UpsertDraft(ctx context.Context, id uuid.UUID, text string, references []string) error {
	rec, ok := f.records[id]
	if !ok {
		return apperr.NotFound("chat record")
	}
	if rec.AutoResponded {
		return apperr.DraftConsumed(id.String())
	}
	f.upserts++
	rec.DraftResponse = &text
	rec.References = references
	rec.DraftDiscarded = false
	return nil
}

func (f *fakeChats) MarkAutoResponded(ctx context.Context, id uuid.UUID) error {
	f.markCalls++
	if f.markErrsLeft > 0 {
		f.markErrsLeft--
		return errors.New("deadlock detected")
	}
	f.markSucceeded[id] = true
	if rec, ok := f.records[id]; ok {
		rec.AutoResponded = true
	}
	return nil
}

func (f *fakeChats) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	f.discarded[id] = true
	if rec, ok := f.records[id]; ok {
		rec.DraftDiscarded = true
	}
	return nil
}

func (f *fakeChats) ListUnclassified(ctx context.Context, limit int) ([]*domain.ChatRecord, error) {
	return nil, nil
}

type fakeMailboxes struct {
	mailbox *domain.Mailbox
}

func (f *fakeMailboxes) GetByID(ctx context.Context, id int64) (*domain.Mailbox, error) {
	return f.mailbox, nil
}

func (f *fakeMailboxes) GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error) {
	return f.mailbox, nil
}

func (f *fakeMailboxes) GetPrimaryForOrg(ctx context.Context, orgID uuid.UUID) (*domain.Mailbox, error) {
	if f.mailbox == nil {
		return nil, apperr.NotFound("mailbox")
	}
	return f.mailbox, nil
}

func (f *fakeMailboxes) ListRenewable(ctx context.Context, horizon time.Duration) ([]*domain.Mailbox, error) {
	return nil, nil
}

func (f *fakeMailboxes) UpdateWatchStatus(ctx context.Context, id int64, status domain.WatchStatus) error {
	return nil
}

func (f *fakeMailboxes) UpdateWatchLease(ctx context.Context, id int64, lease *domain.WatchLease) error {
	return nil
}

func (f *fakeMailboxes) IncrementWatchFailures(ctx context.Context, id int64) error { return nil }

func (f *fakeMailboxes) UpdateHistoryCursor(ctx context.Context, id int64, cursor string) error {
	return nil
}

func (f *fakeMailboxes) SaveCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	return nil
}

func (f *fakeMailboxes) ClearCredentials(ctx context.Context, id int64) error { return nil }

type fakeSender struct {
	sendCalls    int
	sendErr      error
	alreadySent  *domain.SendReceipt
	detectionErr error
	lastReply    *domain.OutboundReply
}

func (f *fakeSender) Watch(ctx context.Context, mb *domain.Mailbox) (*domain.WatchLease, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSender) StopWatch(ctx context.Context, mb *domain.Mailbox) error { return nil }

func (f *fakeSender) ListMessagesSince(ctx context.Context, mb *domain.Mailbox, cursor string) ([]string, string, error) {
	return nil, "", nil
}

func (f *fakeSender) ListRecentMessages(ctx context.Context, mb *domain.Mailbox, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeSender) GetMessage(ctx context.Context, mb *domain.Mailbox, messageID string) (*domain.InboundMessage, error) {
	return nil, apperr.NotFound("message")
}

func (f *fakeSender) WasReplySent(ctx context.Context, mb *domain.Mailbox, threadID, inReplyTo string) (*domain.SendReceipt, error) {
	if f.detectionErr != nil {
		return nil, f.detectionErr
	}
	return f.alreadySent, nil
}

func (f *fakeSender) SendReply(ctx context.Context, mb *domain.Mailbox, reply *domain.OutboundReply) (*domain.SendReceipt, error) {
	f.sendCalls++
	f.lastReply = reply
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &domain.SendReceipt{MessageID: "out-1", ThreadID: reply.ThreadID}, nil
}

func draftText(s string) *string { return &s }

func chatWithDraft() *domain.ChatRecord {
	return &domain.ChatRecord{
		ID:            uuid.New(),
		TicketID:      uuid.New(),
		OrgID:         uuid.New(),
		MessageID:     "msg-1",
		ThreadID:      "th-1",
		FromAddress:   "alice@example.com",
		Subject:       "Login broken",
		DraftResponse: draftText("<p>Try resetting your password.</p>"),
	}
}

func TestStoreDraftRefusesAutoResponded(t *testing.T) {
	rec := chatWithDraft()
	rec.AutoResponded = true
	chats := newFakeChats(rec)

	l := NewLifecycle(chats, &fakeMailboxes{}, &fakeSender{}, 3)
	err := l.StoreDraft(context.Background(), rec.ID, "new text", nil)

	if !apperr.IsCode(err, apperr.CodeDraftConsumed) {
		t.Fatalf("expected DRAFT_CONSUMED, got %v", err)
	}
	if chats.upserts != 0 {
		t.Errorf("expected no upsert, got %d", chats.upserts)
	}
}

func TestStoreDraftUpserts(t *testing.T) {
	rec := chatWithDraft()
	chats := newFakeChats(rec)

	l := NewLifecycle(chats, &fakeMailboxes{}, &fakeSender{}, 3)
	if err := l.StoreDraft(context.Background(), rec.ID, "revised", []string{"c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *rec.DraftResponse != "revised" {
		t.Errorf("expected draft replaced, got %q", *rec.DraftResponse)
	}
}

func TestSendWithoutDraft(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.ChatRecord)
	}{
		{"no draft stored", func(r *domain.ChatRecord) { r.DraftResponse = nil }},
		{"draft discarded", func(r *domain.ChatRecord) { r.DraftDiscarded = true }},
		{"already auto-responded", func(r *domain.ChatRecord) { r.AutoResponded = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := chatWithDraft()
			tt.mutate(rec)
			sender := &fakeSender{}

			l := NewLifecycle(newFakeChats(rec), &fakeMailboxes{mailbox: &domain.Mailbox{}}, sender, 3)
			_, err := l.Send(context.Background(), rec.ID)

			if !apperr.IsCode(err, apperr.CodeNoDraftAvailable) {
				t.Fatalf("expected NO_DRAFT_AVAILABLE, got %v", err)
			}
			if sender.sendCalls != 0 {
				t.Errorf("expected no dispatch, got %d", sender.sendCalls)
			}
		})
	}
}

func TestSendDispatchesAndMarks(t *testing.T) {
	rec := chatWithDraft()
	chats := newFakeChats(rec)
	sender := &fakeSender{}

	l := NewLifecycle(chats, &fakeMailboxes{mailbox: &domain.Mailbox{EmailAddress: "support@x.com"}}, sender, 3)
	receipt, err := l.Send(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.MessageID != "out-1" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if sender.sendCalls != 1 {
		t.Errorf("expected 1 dispatch, got %d", sender.sendCalls)
	}
	if !chats.markSucceeded[rec.ID] {
		t.Error("expected record marked auto-responded")
	}
	if sender.lastReply.Subject != "Re: Login broken" {
		t.Errorf("unexpected subject %q", sender.lastReply.Subject)
	}
	if len(sender.lastReply.To) != 1 || sender.lastReply.To[0] != "alice@example.com" {
		t.Errorf("unexpected recipients %v", sender.lastReply.To)
	}
	if sender.lastReply.InReplyTo != "msg-1" {
		t.Errorf("unexpected in-reply-to %q", sender.lastReply.InReplyTo)
	}
}

func TestSendDetectsAlreadyDispatched(t *testing.T) {
	rec := chatWithDraft()
	chats := newFakeChats(rec)
	sender := &fakeSender{alreadySent: &domain.SendReceipt{MessageID: "prior-1", ThreadID: "th-1"}}

	l := NewLifecycle(chats, &fakeMailboxes{mailbox: &domain.Mailbox{}}, sender, 3)
	receipt, err := l.Send(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.MessageID != "prior-1" {
		t.Errorf("expected prior receipt returned, got %+v", receipt)
	}
	if sender.sendCalls != 0 {
		t.Errorf("expected no second dispatch, got %d", sender.sendCalls)
	}
	if !chats.markSucceeded[rec.ID] {
		t.Error("expected status reconciled")
	}
}

func TestSendProceedsWhenDetectionFails(t *testing.T) {
	rec := chatWithDraft()
	sender := &fakeSender{detectionErr: errors.New("thread fetch failed")}

	l := NewLifecycle(newFakeChats(rec), &fakeMailboxes{mailbox: &domain.Mailbox{}}, sender, 3)
	if _, err := l.Send(context.Background(), rec.ID); err != nil {
		t.Fatalf("detection failure must not block dispatch: %v", err)
	}
	if sender.sendCalls != 1 {
		t.Errorf("expected dispatch despite detection failure, got %d", sender.sendCalls)
	}
}

func TestSendStatusUpdateRetries(t *testing.T) {
	rec := chatWithDraft()
	chats := newFakeChats(rec)
	chats.markErrsLeft = 2 // first two attempts fail, third succeeds
	sender := &fakeSender{}

	l := NewLifecycle(chats, &fakeMailboxes{mailbox: &domain.Mailbox{}}, sender, 3)
	if _, err := l.Send(context.Background(), rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chats.markCalls != 3 {
		t.Errorf("expected 3 status attempts, got %d", chats.markCalls)
	}
	if !rec.AutoResponded {
		t.Error("expected record eventually marked")
	}
}

func TestSendStatusUpdateExhaustsRetries(t *testing.T) {
	rec := chatWithDraft()
	chats := newFakeChats(rec)
	chats.markErrsLeft = 10
	sender := &fakeSender{}

	l := NewLifecycle(chats, &fakeMailboxes{mailbox: &domain.Mailbox{}}, sender, 3)
	_, err := l.Send(context.Background(), rec.ID)

	if !apperr.IsCode(err, apperr.CodeDatabaseError) {
		t.Fatalf("expected database error after exhausted retries, got %v", err)
	}
	if chats.markCalls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", chats.markCalls)
	}
}

func TestSendFailureKeepsDraft(t *testing.T) {
	rec := chatWithDraft()
	chats := newFakeChats(rec)
	sender := &fakeSender{sendErr: errors.New("smtp unavailable")}

	l := NewLifecycle(chats, &fakeMailboxes{mailbox: &domain.Mailbox{}}, sender, 3)
	_, err := l.Send(context.Background(), rec.ID)

	if !apperr.IsCode(err, apperr.CodeProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if rec.AutoResponded {
		t.Error("failed send must not mark the record")
	}
	if !rec.HasDraft() {
		t.Error("draft must remain available after a failed send")
	}
}

func TestDiscard(t *testing.T) {
	t.Run("clears pending draft", func(t *testing.T) {
		rec := chatWithDraft()
		chats := newFakeChats(rec)

		l := NewLifecycle(chats, &fakeMailboxes{}, &fakeSender{}, 3)
		if err := l.Discard(context.Background(), rec.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !chats.discarded[rec.ID] {
			t.Error("expected draft discarded")
		}
	})

	t.Run("no-op when already sent", func(t *testing.T) {
		rec := chatWithDraft()
		rec.AutoResponded = true
		chats := newFakeChats(rec)

		l := NewLifecycle(chats, &fakeMailboxes{}, &fakeSender{}, 3)
		if err := l.Discard(context.Background(), rec.ID); err != nil {
			t.Fatalf("expected silent no-op, got %v", err)
		}
		if chats.discarded[rec.ID] {
			t.Error("consumed draft must not be re-marked")
		}
	})
}
