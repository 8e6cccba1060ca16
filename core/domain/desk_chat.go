package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction marks which way an email event travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ChatRecord is one email event attached to a ticket. MessageID is unique
// per organization and is the dedup key for at-most-once pipeline execution.
//
// DraftResponse and AutoResponded=true are mutually exclusive terminal
// states: once auto-responded, the draft is consumed and further sends are
// rejected. Records are never deleted, only marked discarded.
type ChatRecord struct {
	ID        uuid.UUID
	TicketID  uuid.UUID
	OrgID     uuid.UUID
	MessageID string
	ThreadID  string
	Direction Direction

	FromName    string
	FromAddress string
	ToAddresses []string
	CcAddresses []string
	Subject     string
	Body        string
	SentAt      time.Time

	Classification Label
	Confidence     int

	DraftResponse  *string
	DraftDiscarded bool
	AutoResponded  bool
	References     []string
	Promotional    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDraft reports whether an unsent, undiscarded draft is present.
func (c *ChatRecord) HasDraft() bool {
	return c.DraftResponse != nil && *c.DraftResponse != "" && !c.DraftDiscarded && !c.AutoResponded
}

// DraftConsumed reports whether the draft reached a terminal state.
func (c *ChatRecord) DraftConsumed() bool {
	return c.AutoResponded || c.DraftDiscarded
}
