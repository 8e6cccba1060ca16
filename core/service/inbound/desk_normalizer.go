package inbound

import (
	"net/mail"
	"strings"
	"time"

	"helpdesk_worker/core/domain"
)

// Normalizer turns a raw provider message into the canonical ParsedEmail.
// Two invariants hold on every output: FromEmail is populated even when the
// From header is garbage (the raw string is used verbatim), and the body is
// never empty (html, then text, then the provider snippet).
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize builds the ParsedEmail for a fetched message.
func (n *Normalizer) Normalize(msg *domain.InboundMessage) *domain.ParsedEmail {
	from := parseAddress(header(msg, "From"))

	parsed := &domain.ParsedEmail{
		MessageID: msg.MessageID,
		ThreadID:  msg.ThreadID,
		FromName:  from.Name,
		FromEmail: from.Email,
		To:        parseAddressList(header(msg, "To")),
		Cc:        parseAddressList(header(msg, "Cc")),
		Subject:   header(msg, "Subject"),
		BodyHTML:  msg.HTMLBody,
		BodyText:  msg.TextBody,
		Date:      messageDate(msg),
	}

	if parsed.BodyHTML == "" && parsed.BodyText == "" {
		if msg.Snippet != "" {
			parsed.BodyText = msg.Snippet
		} else {
			parsed.BodyText = "(no content)"
		}
	}
	return parsed
}

func header(msg *domain.InboundMessage, name string) string {
	if msg.Headers == nil {
		return ""
	}
	if v, ok := msg.Headers[name]; ok {
		return v
	}
	return msg.Headers[strings.ToLower(name)]
}

// parseAddress parses an RFC 5322 address, falling back to the raw header
// string as the email when parsing fails.
func parseAddress(raw string) domain.EmailAddress {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.EmailAddress{}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return domain.EmailAddress{Email: raw}
	}
	return domain.EmailAddress{Name: addr.Name, Email: addr.Address}
}

func parseAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		// Malformed list: split on commas and keep the raw pieces
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func messageDate(msg *domain.InboundMessage) time.Time {
	if !msg.Internal.IsZero() {
		return msg.Internal
	}
	if raw := header(msg, "Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t
		}
	}
	return time.Now()
}

// StripHTML reduces an HTML body to plain text for classification and
// retrieval prompts.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	s := html
	s = stripTagBlock(s, "<script", "</script>")
	s = stripTagBlock(s, "<style", "</style>")

	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	out := b.String()
	out = strings.ReplaceAll(out, "&nbsp;", " ")
	out = strings.ReplaceAll(out, "&amp;", "&")
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	return strings.Join(strings.Fields(out), " ")
}

func stripTagBlock(s, open, close string) string {
	lower := strings.ToLower(s)
	for {
		start := strings.Index(lower, open)
		if start < 0 {
			return s
		}
		end := strings.Index(lower[start:], close)
		if end < 0 {
			return s[:start]
		}
		end = start + end + len(close)
		s = s[:start] + s[end:]
		lower = strings.ToLower(s)
	}
}
