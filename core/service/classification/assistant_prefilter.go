// Package classification implements email classification: automated-sender
// pre-filtering, LLM classification and rule-based priority detection.
package classification

import (
	"strings"

	"assistant_server/core/agent/rag"
)

// automatedLocalParts match the local part of known no-reply senders.
var automatedLocalParts = []string{
	"noreply", "no-reply", "donotreply", "notifications",
	"alerts", "updates", "newsletter", "subscribe", "digest",
}

// automatedDomainPrefixes match mass-mail subdomains ("send.", "email.").
var automatedDomainPrefixes = []string{
	"send.", "email.", "marketing.", "newsletter.", "promo.",
}

// IsAutomatedSender reports whether the sender is a known automated
// source that never warrants an LLM call.
func IsAutomatedSender(sender string) bool {
	local := strings.ToLower(rag.SenderLocalPart(sender))
	for _, p := range automatedLocalParts {
		if local == p || strings.HasPrefix(local, p+"+") {
			return true
		}
	}

	domain := rag.SenderDomain(sender)
	for _, p := range automatedDomainPrefixes {
		if strings.HasPrefix(domain, p) || strings.Contains(domain, "."+p) {
			return true
		}
	}
	return false
}
