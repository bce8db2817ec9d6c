package classification

import (
	"strings"

	"assistant_server/core/agent/rag"
)

// Priority scoring weights.
const (
	scoreGovernmentDomain = 50
	scorePrioritySender   = 40
	scoreUrgencyKeyword   = 30

	// PriorityThreshold marks an email as priority at or above this score.
	PriorityThreshold = 70
)

// governmentTLDs and governmentDomainParts flag official senders.
var governmentTLDs = []string{".gov", ".gouv.fr", ".gov.uk", ".gov.de", ".gc.ca", ".go.kr", ".gov.au"}

// urgencyKeywords are matched case-insensitively in subject and body
// across the supported languages.
var urgencyKeywords = []string{
	"urgent", "asap", "deadline", "immediately", "action required",
	"срочно",   // Russian
	"dringend", // German
	"urgente",  // Spanish/Italian
	"緊急",       // Japanese
}

// PriorityDetector scores emails with deterministic rules. LLM output
// never overrides these: the rules are auditable, the model is not.
type PriorityDetector struct {
	threshold int
}

// NewPriorityDetector creates a detector with the given threshold.
func NewPriorityDetector(threshold int) *PriorityDetector {
	if threshold <= 0 {
		threshold = PriorityThreshold
	}
	return &PriorityDetector{threshold: threshold}
}

// Score computes the rule-based priority score. prioritySenders is the
// user's configured list of addresses or domains.
func (d *PriorityDetector) Score(sender, subject, body string, prioritySenders []string) int {
	score := 0

	domain := rag.SenderDomain(sender)
	for _, tld := range governmentTLDs {
		if strings.HasSuffix(domain, tld) {
			score += scoreGovernmentDomain
			break
		}
	}

	addr := rag.SenderAddress(sender)
	for _, p := range prioritySenders {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if addr == p || domain == p || strings.HasSuffix(domain, "."+p) {
			score += scorePrioritySender
			break
		}
	}

	haystack := strings.ToLower(subject + " " + body)
	for _, kw := range urgencyKeywords {
		if strings.Contains(haystack, kw) {
			score += scoreUrgencyKeyword
			break
		}
	}

	return score
}

// IsPriority reports whether a combined score crosses the threshold.
func (d *PriorityDetector) IsPriority(score int) bool {
	return score >= d.threshold
}

// Detect returns the score and whether it crosses the priority threshold.
func (d *PriorityDetector) Detect(sender, subject, body string, prioritySenders []string) (int, bool) {
	score := d.Score(sender, subject, body, prioritySenders)
	return score, score >= d.threshold
}
