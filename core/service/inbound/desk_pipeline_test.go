package inbound

import (
	"context"
	"testing"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
)

type fakeChatRepo struct {
	byMessageID map[string]*domain.ChatRecord
	byID        map[uuid.UUID]*domain.ChatRecord

	classifications map[uuid.UUID]domain.ClassificationResult
	promotional     map[uuid.UUID]bool
	unclassified    []*domain.ChatRecord
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		byMessageID:     make(map[string]*domain.ChatRecord),
		byID:            make(map[uuid.UUID]*domain.ChatRecord),
		classifications: make(map[uuid.UUID]domain.ClassificationResult),
		promotional:     make(map[uuid.UUID]bool),
	}
}

func (r *fakeChatRepo) key(orgID uuid.UUID, messageID string) string {
	return orgID.String() + "/" + messageID
}

func (r *fakeChatRepo) Create(ctx context.Context, rec *domain.ChatRecord) error {
	k := r.key(rec.OrgID, rec.MessageID)
	if _, ok := r.byMessageID[k]; ok {
		return apperr.AlreadyExists("chat record")
	}
	r.byMessageID[k] = rec
	r.byID[rec.ID] = rec
	return nil
}

func (r *fakeChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ChatRecord, error) {
	rec, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("chat record")
	}
	return rec, nil
}

func (r *fakeChatRepo) GetByMessageID(ctx context.Context, orgID uuid.UUID, messageID string) (*domain.ChatRecord, error) {
	rec, ok := r.byMessageID[r.key(orgID, messageID)]
	if !ok {
		return nil, apperr.NotFound("chat record")
	}
	return rec, nil
}

func (r *fakeChatRepo) Exists(ctx context.Context, orgID uuid.UUID, messageID string) (bool, error) {
	_, ok := r.byMessageID[r.key(orgID, messageID)]
	return ok, nil
}

func (r *fakeChatRepo) UpdateClassification(ctx context.Context, id uuid.UUID, result domain.ClassificationResult) error {
	r.classifications[id] = result
	if rec, ok := r.byID[id]; ok {
		rec.Classification = result.Label
		rec.Confidence = result.Confidence
	}
	return nil
}

func (r *fakeChatRepo) MarkPromotional(ctx context.Context, id uuid.UUID) error {
	r.promotional[id] = true
	return nil
}

func (r *fakeChatRepo) UpsertDraft(ctx context.Context, id uuid.UUID, text string, references []string) error {
	rec, ok := r.byID[id]
	if !ok {
		return apperr.NotFound("chat record")
	}
	if rec.AutoResponded {
		return apperr.DraftConsumed(id.String())
	}
	rec.DraftResponse = &text
	rec.References = references
	rec.DraftDiscarded = false
	return nil
}

func (r *fakeChatRepo) MarkAutoResponded(ctx context.Context, id uuid.UUID) error {
	if rec, ok := r.byID[id]; ok {
		rec.AutoResponded = true
	}
	return nil
}

func (r *fakeChatRepo) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	if rec, ok := r.byID[id]; ok {
		rec.DraftDiscarded = true
	}
	return nil
}

func (r *fakeChatRepo) ListUnclassified(ctx context.Context, limit int) ([]*domain.ChatRecord, error) {
	return r.unclassified, nil
}

type fakeResolver struct {
	ticketID uuid.UUID
}

func (f *fakeResolver) Resolve(ctx context.Context, email *domain.ParsedEmail, orgID uuid.UUID) (*domain.ResolvedThread, error) {
	return &domain.ResolvedThread{TicketID: f.ticketID}, nil
}

type fakeClassifier struct {
	result domain.ClassificationResult
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, body string) domain.ClassificationResult {
	f.calls++
	return f.result
}

type fakeResponder struct {
	result domain.RagResult
	calls  int
}

func (f *fakeResponder) Generate(ctx context.Context, query, orgID string, topK int) domain.RagResult {
	f.calls++
	return f.result
}

type fakeDrafts struct {
	stored    map[uuid.UUID]string
	sent      map[uuid.UUID]bool
	sendErr   error
	sendCalls int
}

func newFakeDrafts() *fakeDrafts {
	return &fakeDrafts{
		stored: make(map[uuid.UUID]string),
		sent:   make(map[uuid.UUID]bool),
	}
}

func (f *fakeDrafts) StoreDraft(ctx context.Context, chatID uuid.UUID, text string, references []string) error {
	f.stored[chatID] = text
	return nil
}

func (f *fakeDrafts) Send(ctx context.Context, chatID uuid.UUID) (*domain.SendReceipt, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent[chatID] = true
	return &domain.SendReceipt{MessageID: "sent-1", ThreadID: "th-1"}, nil
}

type pipelineFixture struct {
	chats      *fakeChatRepo
	classifier *fakeClassifier
	responder  *fakeResponder
	drafts     *fakeDrafts
	pipeline   *Pipeline
	mailbox    *domain.Mailbox
}

func newPipelineFixture(classification domain.ClassificationResult, rag domain.RagResult) *pipelineFixture {
	chats := newFakeChatRepo()
	classifier := &fakeClassifier{result: classification}
	responder := &fakeResponder{result: rag}
	drafts := newFakeDrafts()

	f := &pipelineFixture{
		chats:      chats,
		classifier: classifier,
		responder:  responder,
		drafts:     drafts,
		mailbox: &domain.Mailbox{
			ID:           1,
			OrgID:        uuid.New(),
			EmailAddress: "support@example.com",
			RefreshToken: "rt",
		},
	}
	f.pipeline = NewPipeline(chats, nil, &fakeResolver{ticketID: uuid.New()}, classifier, responder, drafts, 5, 85)
	return f
}

func supportMessage(id string) *domain.InboundMessage {
	return &domain.InboundMessage{
		MessageID: id,
		ThreadID:  "th-1",
		Headers: map[string]string{
			"From":    `"Alice" <alice@example.com>`,
			"Subject": "Help with login",
		},
		TextBody: "I cannot log into my account, please help.",
	}
}

func TestProcessAutoSendsAboveThreshold(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelShouldRespond, Confidence: 95},
		domain.RagResult{Answer: "Reset your password.", Confidence: 90, References: []string{"c1"}},
	)

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.DraftStored {
		t.Error("expected draft stored")
	}
	if !outcome.AutoResponded {
		t.Error("expected auto-response at confidence 90 with threshold 85")
	}
	if outcome.Confidence != 90 {
		t.Errorf("expected outcome confidence from retrieval, got %d", outcome.Confidence)
	}
	if f.drafts.sendCalls != 1 {
		t.Errorf("expected 1 send call, got %d", f.drafts.sendCalls)
	}
}

func TestProcessHoldsDraftBelowThreshold(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelShouldRespond, Confidence: 75},
		domain.RagResult{Answer: "Maybe try resetting.", Confidence: 80, References: []string{"c1"}},
	)

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.DraftStored {
		t.Error("expected draft stored for review")
	}
	if outcome.AutoResponded {
		t.Error("confidence 80 must not auto-send with threshold 85")
	}
	if f.drafts.sendCalls != 0 {
		t.Errorf("expected no send call, got %d", f.drafts.sendCalls)
	}
}

func TestProcessAutoSendExactlyAtThreshold(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelShouldRespond, Confidence: 90},
		domain.RagResult{Answer: "Answer.", Confidence: 85, References: []string{"c1"}},
	)

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.AutoResponded {
		t.Error("confidence equal to threshold must auto-send")
	}
}

func TestProcessNoResponseStopsBeforeRetrieval(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelNoResponse, Confidence: 88},
		domain.RagResult{},
	)

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.Skipped || outcome.SkipReason != "no_response" {
		t.Errorf("expected no_response skip, got %+v", outcome)
	}
	if f.responder.calls != 0 {
		t.Errorf("retrieval must not run for no_response, got %d calls", f.responder.calls)
	}
	if f.drafts.sendCalls != 0 {
		t.Error("nothing must be sent for no_response")
	}
	// Ticket and record still exist.
	if len(f.chats.byID) != 1 {
		t.Errorf("expected chat record stored, got %d", len(f.chats.byID))
	}
}

func TestProcessUnknownStopsBeforeRetrieval(t *testing.T) {
	f := newPipelineFixture(domain.UnknownClassification(), domain.RagResult{})

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Skipped || outcome.SkipReason != "unknown" {
		t.Errorf("expected unknown skip, got %+v", outcome)
	}
	if f.responder.calls != 0 {
		t.Error("retrieval must not run for unknown")
	}
}

func TestProcessDuplicateCreateSkips(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelShouldRespond, Confidence: 95},
		domain.RagResult{Answer: "A", Confidence: 95},
	)

	if _, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1")); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("duplicate process must not error: %v", err)
	}

	if !outcome.Skipped || outcome.SkipReason != "duplicate" {
		t.Errorf("expected duplicate skip, got %+v", outcome)
	}
	if len(f.chats.byID) != 1 {
		t.Errorf("expected single record, got %d", len(f.chats.byID))
	}
}

func TestProcessPromotionalSkipsClassification(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelShouldRespond, Confidence: 95},
		domain.RagResult{},
	)

	msg := supportMessage("m1")
	msg.Headers["List-Unsubscribe"] = "<https://example.com/unsub>"

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.Skipped || outcome.SkipReason != "promotional" {
		t.Errorf("expected promotional skip, got %+v", outcome)
	}
	if f.classifier.calls != 0 {
		t.Errorf("classifier must not run for promotional mail, got %d calls", f.classifier.calls)
	}
	// Record is still stored and marked.
	if len(f.chats.promotional) != 1 {
		t.Error("expected record marked promotional")
	}
}

func TestProcessAutoSendFailureKeepsDraft(t *testing.T) {
	f := newPipelineFixture(
		domain.ClassificationResult{Label: domain.LabelShouldRespond, Confidence: 95},
		domain.RagResult{Answer: "Answer.", Confidence: 95, References: []string{"c1"}},
	)
	f.drafts.sendErr = apperr.ProviderError("send", context.DeadlineExceeded)

	outcome, err := f.pipeline.Process(context.Background(), f.mailbox, supportMessage("m1"))
	if err != nil {
		t.Fatalf("send failure must not fail the pipeline: %v", err)
	}

	if !outcome.DraftStored {
		t.Error("expected draft kept after failed send")
	}
	if outcome.AutoResponded {
		t.Error("failed send must not report auto-responded")
	}
}

func TestIsPromotional(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		body    string
		subject string
		want    bool
	}{
		{
			name:    "list-unsubscribe header",
			headers: map[string]string{"List-Unsubscribe": "<mailto:u@x.com>"},
			body:    "regular text",
			want:    true,
		},
		{
			name:    "bulk precedence",
			headers: map[string]string{"Precedence": "Bulk"},
			body:    "regular text",
			want:    true,
		},
		{
			name: "two content signals",
			body: "Limited time offer! Use promo code SAVE20 today.",
			want: true,
		},
		{
			name: "single signal is not enough",
			body: "Click unsubscribe if you asked us a question by mistake",
			want: false,
		},
		{
			name: "plain support mail",
			body: "My order arrived damaged, what should I do?",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"From": "a@b.com"}
			for k, v := range tt.headers {
				headers[k] = v
			}
			msg := &domain.InboundMessage{Headers: headers, TextBody: tt.body}
			parsed := NewNormalizer().Normalize(msg)
			parsed.Subject = tt.subject

			if got := IsPromotional(msg, parsed); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
