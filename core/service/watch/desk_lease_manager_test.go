package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
)

type fakeMailboxRepo struct {
	mu        sync.Mutex
	mailboxes map[int64]*domain.Mailbox

	statusUpdates map[int64][]domain.WatchStatus
	leaseUpdates  map[int64]*domain.WatchLease
	failureBumps  map[int64]int
	cleared       map[int64]bool
}

func newFakeMailboxRepo(mailboxes ...*domain.Mailbox) *fakeMailboxRepo {
	r := &fakeMailboxRepo{
		mailboxes:     make(map[int64]*domain.Mailbox),
		statusUpdates: make(map[int64][]domain.WatchStatus),
		leaseUpdates:  make(map[int64]*domain.WatchLease),
		failureBumps:  make(map[int64]int),
		cleared:       make(map[int64]bool),
	}
	for _, mb := range mailboxes {
		r.mailboxes[mb.ID] = mb
	}
	return r
}

func (r *fakeMailboxRepo) GetByID(ctx context.Context, id int64) (*domain.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.mailboxes[id]
	if !ok {
		return nil, apperr.NotFound("mailbox")
	}
	return mb, nil
}

func (r *fakeMailboxRepo) GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mb := range r.mailboxes {
		if mb.EmailAddress == email {
			return mb, nil
		}
	}
	return nil, apperr.NotFound("mailbox")
}

func (r *fakeMailboxRepo) GetPrimaryForOrg(ctx context.Context, orgID uuid.UUID) (*domain.Mailbox, error) {
	return nil, apperr.NotFound("mailbox")
}

func (r *fakeMailboxRepo) ListRenewable(ctx context.Context, horizon time.Duration) ([]*domain.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Mailbox
	for _, mb := range r.mailboxes {
		out = append(out, mb)
	}
	return out, nil
}

func (r *fakeMailboxRepo) UpdateWatchStatus(ctx context.Context, id int64, status domain.WatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates[id] = append(r.statusUpdates[id], status)
	return nil
}

func (r *fakeMailboxRepo) UpdateWatchLease(ctx context.Context, id int64, lease *domain.WatchLease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaseUpdates[id] = lease
	return nil
}

func (r *fakeMailboxRepo) IncrementWatchFailures(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureBumps[id]++
	return nil
}

func (r *fakeMailboxRepo) UpdateHistoryCursor(ctx context.Context, id int64, cursor string) error {
	return nil
}

func (r *fakeMailboxRepo) SaveCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	return nil
}

func (r *fakeMailboxRepo) ClearCredentials(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared[id] = true
	return nil
}

type fakeProvider struct {
	mu         sync.Mutex
	watchCalls map[int64]int
	failFor    map[int64]error
	lease      domain.WatchLease
	stopped    map[int64]bool
}

func newFakeProvider(lease domain.WatchLease) *fakeProvider {
	return &fakeProvider{
		watchCalls: make(map[int64]int),
		failFor:    make(map[int64]error),
		lease:      lease,
		stopped:    make(map[int64]bool),
	}
}

func (p *fakeProvider) Watch(ctx context.Context, mb *domain.Mailbox) (*domain.WatchLease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchCalls[mb.ID]++
	if err := p.failFor[mb.ID]; err != nil {
		return nil, err
	}
	lease := p.lease
	return &lease, nil
}

func (p *fakeProvider) StopWatch(ctx context.Context, mb *domain.Mailbox) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped[mb.ID] = true
	return nil
}

func (p *fakeProvider) ListMessagesSince(ctx context.Context, mb *domain.Mailbox, cursor string) ([]string, string, error) {
	return nil, "", nil
}

func (p *fakeProvider) ListRecentMessages(ctx context.Context, mb *domain.Mailbox, limit int) ([]string, error) {
	return nil, nil
}

func (p *fakeProvider) GetMessage(ctx context.Context, mb *domain.Mailbox, messageID string) (*domain.InboundMessage, error) {
	return nil, apperr.NotFound("message")
}

func (p *fakeProvider) WasReplySent(ctx context.Context, mb *domain.Mailbox, threadID, inReplyTo string) (*domain.SendReceipt, error) {
	return nil, nil
}

func (p *fakeProvider) SendReply(ctx context.Context, mb *domain.Mailbox, reply *domain.OutboundReply) (*domain.SendReceipt, error) {
	return nil, nil
}

func mailbox(id int64, opts ...func(*domain.Mailbox)) *domain.Mailbox {
	mb := &domain.Mailbox{
		ID:           id,
		OrgID:        uuid.New(),
		EmailAddress: "support@example.com",
		RefreshToken: "refresh-token",
		WatchStatus:  domain.WatchNone,
	}
	for _, opt := range opts {
		opt(mb)
	}
	return mb
}

func withActiveLease(until time.Time) func(*domain.Mailbox) {
	return func(mb *domain.Mailbox) {
		mb.WatchStatus = domain.WatchActive
		mb.WatchExpiresAt = &until
	}
}

func TestEnsureWatchRenewsMissingLease(t *testing.T) {
	mb := mailbox(1)
	repo := newFakeMailboxRepo(mb)
	expires := time.Now().Add(7 * 24 * time.Hour)
	provider := newFakeProvider(domain.WatchLease{ResourceID: "topic", HistoryID: "42", ExpiresAt: expires})

	m := NewLeaseManager(repo, provider, time.Hour)
	if err := m.EnsureWatch(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.watchCalls[1] != 1 {
		t.Errorf("expected 1 watch call, got %d", provider.watchCalls[1])
	}
	if repo.leaseUpdates[1] == nil {
		t.Fatal("expected lease to be stored")
	}
	if got := repo.statusUpdates[1]; len(got) != 1 || got[0] != domain.WatchPending {
		t.Errorf("expected single pending transition, got %v", got)
	}
}

func TestEnsureWatchIdempotentOnHealthyLease(t *testing.T) {
	mb := mailbox(1, withActiveLease(time.Now().Add(48*time.Hour)))
	repo := newFakeMailboxRepo(mb)
	provider := newFakeProvider(domain.WatchLease{})

	m := NewLeaseManager(repo, provider, time.Hour)
	for i := 0; i < 3; i++ {
		if err := m.EnsureWatch(context.Background(), 1); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	if provider.watchCalls[1] != 0 {
		t.Errorf("expected no provider calls for healthy lease, got %d", provider.watchCalls[1])
	}
}

func TestEnsureWatchRenewsLeaseInsideHorizon(t *testing.T) {
	mb := mailbox(1, withActiveLease(time.Now().Add(30*time.Minute)))
	repo := newFakeMailboxRepo(mb)
	provider := newFakeProvider(domain.WatchLease{ExpiresAt: time.Now().Add(7 * 24 * time.Hour)})

	m := NewLeaseManager(repo, provider, time.Hour)
	if err := m.EnsureWatch(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.watchCalls[1] != 1 {
		t.Errorf("expected renewal inside horizon, got %d calls", provider.watchCalls[1])
	}
}

func TestEnsureWatchMissingCredentials(t *testing.T) {
	mb := mailbox(1)
	mb.RefreshToken = ""
	repo := newFakeMailboxRepo(mb)
	provider := newFakeProvider(domain.WatchLease{})

	m := NewLeaseManager(repo, provider, time.Hour)
	err := m.EnsureWatch(context.Background(), 1)
	if !apperr.IsCode(err, apperr.CodeMissingCreds) {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
	if provider.watchCalls[1] != 0 {
		t.Errorf("expected no provider call without credentials, got %d", provider.watchCalls[1])
	}
}

func TestEnsureWatchProviderFailure(t *testing.T) {
	mb := mailbox(1)
	repo := newFakeMailboxRepo(mb)
	provider := newFakeProvider(domain.WatchLease{})
	provider.failFor[1] = errors.New("quota exceeded")

	m := NewLeaseManager(repo, provider, time.Hour)
	err := m.EnsureWatch(context.Background(), 1)
	if !apperr.IsCode(err, apperr.CodeProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}

	updates := repo.statusUpdates[1]
	if len(updates) != 2 || updates[0] != domain.WatchPending || updates[1] != domain.WatchFailed {
		t.Errorf("expected pending then failed, got %v", updates)
	}
	if repo.failureBumps[1] != 1 {
		t.Errorf("expected failure counter bump, got %d", repo.failureBumps[1])
	}
}

func TestRenewAllIsolatesFailures(t *testing.T) {
	good := mailbox(1)
	bad := mailbox(2)
	bad.EmailAddress = "broken@example.com"
	noCreds := mailbox(3)
	noCreds.EmailAddress = "stale@example.com"
	noCreds.RefreshToken = ""

	repo := newFakeMailboxRepo(good, bad, noCreds)
	provider := newFakeProvider(domain.WatchLease{ExpiresAt: time.Now().Add(7 * 24 * time.Hour)})
	provider.failFor[2] = errors.New("watch rejected")

	m := NewLeaseManager(repo, provider, time.Hour)
	summary, err := m.RenewAll(context.Background())
	if err != nil {
		t.Fatalf("batch must not fail on per-mailbox errors: %v", err)
	}

	if summary.Total != 3 {
		t.Errorf("expected total 3, got %d", summary.Total)
	}
	if summary.Renewed != 1 {
		t.Errorf("expected 1 renewed, got %d", summary.Renewed)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", summary.Failed)
	}
	if summary.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", summary.Skipped)
	}

	// The failing mailbox never blocks the good one.
	if repo.leaseUpdates[1] == nil {
		t.Error("expected good mailbox lease stored")
	}
	// Missing credentials are skipped before any provider call.
	if provider.watchCalls[3] != 0 {
		t.Errorf("expected no provider call for credential-less mailbox, got %d", provider.watchCalls[3])
	}
}

func TestDisconnect(t *testing.T) {
	mb := mailbox(1, withActiveLease(time.Now().Add(time.Hour)))
	repo := newFakeMailboxRepo(mb)
	provider := newFakeProvider(domain.WatchLease{})

	m := NewLeaseManager(repo, provider, time.Hour)
	if err := m.Disconnect(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !provider.stopped[1] {
		t.Error("expected provider watch stopped")
	}
	if !repo.cleared[1] {
		t.Error("expected credentials cleared")
	}
	updates := repo.statusUpdates[1]
	if len(updates) != 1 || updates[0] != domain.WatchNone {
		t.Errorf("expected status reset to none, got %v", updates)
	}
}
