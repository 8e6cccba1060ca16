package ticket

import (
	"context"
	"testing"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
)

type fakeTicketRepo struct {
	byThread map[string]*domain.Ticket

	statusUpdates map[uuid.UUID]domain.TicketStatus
	touched       map[uuid.UUID]bool
	customers     map[string]*domain.Customer
	created       []*domain.Ticket
}

func newFakeTicketRepo(tickets ...*domain.Ticket) *fakeTicketRepo {
	r := &fakeTicketRepo{
		byThread:      make(map[string]*domain.Ticket),
		statusUpdates: make(map[uuid.UUID]domain.TicketStatus),
		touched:       make(map[uuid.UUID]bool),
		customers:     make(map[string]*domain.Customer),
	}
	for _, t := range tickets {
		r.byThread[t.OrgID.String()+"/"+t.ThreadID] = t
	}
	return r
}

func (r *fakeTicketRepo) GetByThread(ctx context.Context, orgID uuid.UUID, threadID string) (*domain.Ticket, error) {
	t, ok := r.byThread[orgID.String()+"/"+threadID]
	if !ok {
		return nil, apperr.NotFound("ticket")
	}
	return t, nil
}

func (r *fakeTicketRepo) GetOrCreate(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error) {
	key := t.OrgID.String() + "/" + t.ThreadID
	if existing, ok := r.byThread[key]; ok {
		return existing, false, nil
	}
	r.byThread[key] = t
	r.created = append(r.created, t)
	return t, true, nil
}

func (r *fakeTicketRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TicketStatus) error {
	r.statusUpdates[id] = status
	return nil
}

func (r *fakeTicketRepo) Touch(ctx context.Context, id uuid.UUID) error {
	r.touched[id] = true
	return nil
}

func (r *fakeTicketRepo) GetOrCreateCustomer(ctx context.Context, orgID uuid.UUID, email, displayName string) (*domain.Customer, error) {
	if c, ok := r.customers[email]; ok {
		return c, nil
	}
	c := &domain.Customer{ID: uuid.New(), OrgID: orgID, Email: email, DisplayName: displayName}
	r.customers[email] = c
	return c, nil
}

func parsedEmail(threadID string) *domain.ParsedEmail {
	return &domain.ParsedEmail{
		MessageID: "msg-1",
		ThreadID:  threadID,
		FromEmail: "alice@example.com",
		FromName:  "Alice",
		Subject:   "Broken login",
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func resolverAt(repo *fakeTicketRepo, now time.Time) *ThreadResolver {
	r := NewThreadResolver(repo, 30)
	r.now = func() time.Time { return now }
	return r
}

func TestResolveCreatesTicketForNewThread(t *testing.T) {
	repo := newFakeTicketRepo()
	orgID := uuid.New()

	resolved, err := resolverAt(repo, fixedNow()).Resolve(context.Background(), parsedEmail("thread-1"), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !resolved.IsNew {
		t.Error("expected new ticket")
	}
	if resolved.Reopened {
		t.Error("new ticket must not be marked reopened")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 created ticket, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.Subject != "Broken login" {
		t.Errorf("expected subject preserved, got %q", created.Subject)
	}
	if created.Status != domain.TicketOpen {
		t.Errorf("expected open status, got %q", created.Status)
	}

	customer := repo.customers["alice@example.com"]
	if customer == nil {
		t.Fatal("expected customer created")
	}
	if customer.DisplayName != "Alice" {
		t.Errorf("expected display name from header, got %q", customer.DisplayName)
	}
}

func TestResolveEmptySubjectFallback(t *testing.T) {
	repo := newFakeTicketRepo()
	email := parsedEmail("thread-1")
	email.Subject = ""

	if _, err := resolverAt(repo, fixedNow()).Resolve(context.Background(), email, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.created[0].Subject; got != "(No subject)" {
		t.Errorf("expected subject fallback, got %q", got)
	}
}

func TestResolveOpenTicketTouches(t *testing.T) {
	orgID := uuid.New()
	existing := &domain.Ticket{
		ID:       uuid.New(),
		OrgID:    orgID,
		ThreadID: "thread-1",
		Status:   domain.TicketOpen,
	}
	repo := newFakeTicketRepo(existing)

	resolved, err := resolverAt(repo, fixedNow()).Resolve(context.Background(), parsedEmail("thread-1"), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resolved.TicketID != existing.ID {
		t.Errorf("expected existing ticket id %s, got %s", existing.ID, resolved.TicketID)
	}
	if resolved.IsNew || resolved.Reopened {
		t.Error("open ticket must be neither new nor reopened")
	}
	if !repo.touched[existing.ID] {
		t.Error("expected open ticket touched")
	}
}

func TestResolveClosedTicketGracePeriod(t *testing.T) {
	now := fixedNow()
	tests := []struct {
		name         string
		closedAgo    time.Duration
		wantReopened bool
	}{
		{"closed 1 day ago reopens", 24 * time.Hour, true},
		{"closed 29 days ago reopens", 29 * 24 * time.Hour, true},
		{"closed exactly 30 days ago reopens", 30 * 24 * time.Hour, true},
		{"closed 31 days ago stays closed", 31 * 24 * time.Hour, false},
		{"closed 90 days ago stays closed", 90 * 24 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orgID := uuid.New()
			existing := &domain.Ticket{
				ID:        uuid.New(),
				OrgID:     orgID,
				ThreadID:  "thread-1",
				Status:    domain.TicketClosed,
				UpdatedAt: now.Add(-tt.closedAgo),
			}
			repo := newFakeTicketRepo(existing)

			resolved, err := resolverAt(repo, now).Resolve(context.Background(), parsedEmail("thread-1"), orgID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// The message always attaches to the existing ticket.
			if resolved.TicketID != existing.ID {
				t.Errorf("expected ticket %s, got %s", existing.ID, resolved.TicketID)
			}
			if resolved.Reopened != tt.wantReopened {
				t.Errorf("expected reopened=%v, got %v", tt.wantReopened, resolved.Reopened)
			}

			status, updated := repo.statusUpdates[existing.ID]
			if tt.wantReopened {
				if !updated || status != domain.TicketOpen {
					t.Errorf("expected status update to open, got %q (updated=%v)", status, updated)
				}
			} else if updated {
				t.Errorf("expected no status update past grace period, got %q", status)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		email *domain.ParsedEmail
		want  string
	}{
		{
			name:  "from header name",
			email: &domain.ParsedEmail{FromName: "Alice", FromEmail: "alice@example.com"},
			want:  "Alice",
		},
		{
			name:  "local part fallback",
			email: &domain.ParsedEmail{FromEmail: "bob.smith@example.com"},
			want:  "bob.smith",
		},
		{
			name:  "unparseable address verbatim",
			email: &domain.ParsedEmail{FromEmail: "not-an-address"},
			want:  "not-an-address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayName(tt.email); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
