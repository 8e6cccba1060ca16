package domain

import (
	"time"

	"github.com/google/uuid"
)

// OwnerKind distinguishes who holds a mailbox: a whole organization inbox or
// an individual agent profile inbox. Both carry credentials and watch state
// through the same Mailbox entity.
type OwnerKind string

const (
	OwnerOrganization OwnerKind = "organization"
	OwnerProfile      OwnerKind = "profile"
)

// MailboxOwner is the tagged owner reference of a mailbox.
type MailboxOwner struct {
	Kind OwnerKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func OrganizationOwner(id uuid.UUID) MailboxOwner {
	return MailboxOwner{Kind: OwnerOrganization, ID: id}
}

func ProfileOwner(id uuid.UUID) MailboxOwner {
	return MailboxOwner{Kind: OwnerProfile, ID: id}
}

// WatchStatus is the push-subscription lease state of a mailbox.
type WatchStatus string

const (
	WatchNone    WatchStatus = "none"
	WatchPending WatchStatus = "pending"
	WatchActive  WatchStatus = "active"
	WatchFailed  WatchStatus = "failed"
)

// Mailbox is a connected email account. Watch state is mutated only by the
// lease manager; credentials are cleared on disconnect, which also tears
// down the watch.
type Mailbox struct {
	ID           int64
	OrgID        uuid.UUID
	Owner        MailboxOwner
	EmailAddress string

	// Provider credentials (stored encrypted)
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	// Watch lease
	WatchStatus      WatchStatus
	WatchExpiresAt   *time.Time
	WatchResourceID  string
	HistoryCursor    string
	WatchFailures    int
	LastRenewedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredentials reports whether the mailbox can talk to the provider at all.
func (m *Mailbox) HasCredentials() bool {
	return m.RefreshToken != ""
}

// WatchExpired reports whether the current watch lease has lapsed.
func (m *Mailbox) WatchExpired() bool {
	if m.WatchExpiresAt == nil {
		return true
	}
	return time.Now().After(*m.WatchExpiresAt)
}

// NeedsRenewal reports whether the watch is missing or expires within the
// given horizon.
func (m *Mailbox) NeedsRenewal(horizon time.Duration) bool {
	if m.WatchStatus == WatchNone || m.WatchStatus == WatchFailed {
		return true
	}
	if m.WatchExpiresAt == nil {
		return true
	}
	return time.Until(*m.WatchExpiresAt) < horizon
}

// WatchLease is the provider's answer to a watch request.
type WatchLease struct {
	ResourceID string
	HistoryID  string
	ExpiresAt  time.Time
}

// RenewalOutcome is the per-mailbox result of a renewal batch.
type RenewalOutcome struct {
	MailboxID int64     `json:"mailbox_id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"` // renewed | failed | skipped
	Error     string    `json:"error,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// RenewalSummary aggregates a renewAll batch.
type RenewalSummary struct {
	Total   int              `json:"total"`
	Renewed int              `json:"renewed"`
	Failed  int              `json:"failed"`
	Skipped int              `json:"skipped"`
	Results []RenewalOutcome `json:"results"`
}
