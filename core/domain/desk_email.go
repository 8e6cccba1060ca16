package domain

import "time"

// EmailAddress is a parsed RFC 5322 address. Name is empty when the header
// carries no display name; Email falls back to the raw header string when
// the header cannot be parsed.
type EmailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// InboundMessage is a raw provider message, immutable once fetched. It only
// lives long enough to be normalized into a ParsedEmail and archived.
type InboundMessage struct {
	MessageID string
	ThreadID  string
	Headers   map[string]string
	TextBody  string
	HTMLBody  string
	Snippet   string
	Raw       []byte
	Internal  time.Time
}

// ParsedEmail is the canonical normalized form fed into the pipeline.
// FromEmail is always populated and Body is never empty.
type ParsedEmail struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	FromName  string    `json:"from_name,omitempty"`
	FromEmail string    `json:"from_email"`
	To        []string  `json:"to"`
	Cc        []string  `json:"cc,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	BodyText  string    `json:"body_text,omitempty"`
	BodyHTML  string    `json:"body_html,omitempty"`
	Date      time.Time `json:"date"`
}

// Body returns the preferred body: HTML if present, else text, else empty.
// Normalization guarantees at least one of the three (snippet included) is
// set before a ParsedEmail leaves the normalizer.
func (p *ParsedEmail) Body() string {
	if p.BodyHTML != "" {
		return p.BodyHTML
	}
	return p.BodyText
}

// OutboundReply is a threaded reply handed to the outbound provider.
type OutboundReply struct {
	ThreadID  string
	InReplyTo string
	To        []string
	Subject   string
	HTMLBody  string
}

// SendReceipt is the provider's acknowledgement of a dispatched reply.
type SendReceipt struct {
	MessageID string
	ThreadID  string
}
