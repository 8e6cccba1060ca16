package inbound

import (
	"strings"

	"helpdesk_worker/core/domain"
)

// promoSignals are phrases that mark bulk marketing mail. Any two of them
// together, or a list-unsubscribe header alone, flags the message.
var promoSignals = []string{
	"unsubscribe",
	"view this email in your browser",
	"special offer",
	"limited time",
	"% off",
	"free shipping",
	"promo code",
	"flash sale",
	"exclusive deal",
	"no longer wish to receive",
}

// IsPromotional runs cheap header and content heuristics before the AI
// pipeline so obvious marketing mail never costs a completion call.
func IsPromotional(msg *domain.InboundMessage, parsed *domain.ParsedEmail) bool {
	if header(msg, "List-Unsubscribe") != "" {
		return true
	}
	if strings.EqualFold(header(msg, "Precedence"), "bulk") {
		return true
	}

	body := strings.ToLower(StripHTML(parsed.Body()))
	subject := strings.ToLower(parsed.Subject)

	hits := 0
	for _, signal := range promoSignals {
		if strings.Contains(body, signal) || strings.Contains(subject, signal) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}
