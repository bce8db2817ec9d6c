package response

import (
	"fmt"
	"strings"

	"assistant_server/core/domain"
	"assistant_server/pkg/apperr"
)

// Draft length bounds. A reply under 50 characters is a stub, over 2000
// it stops being an email reply.
const (
	DefaultDraftMinLen = 50
	DefaultDraftMaxLen = 2000
)

// greetingPatterns and closingPatterns per language. The tone variants
// share one table; the check is advisory (warning only), so coverage
// beats precision here.
var greetingPatterns = map[string][]string{
	"en": {"hello", "hi ", "hi,", "dear", "good morning", "good afternoon"},
	"de": {"hallo", "sehr geehrte", "liebe", "lieber", "guten tag"},
	"fr": {"bonjour", "cher", "chère", "madame", "monsieur"},
	"es": {"hola", "estimado", "estimada", "buenos días"},
	"it": {"ciao", "gentile", "buongiorno", "egregio"},
	"ru": {"здравствуйте", "привет", "уважаемый", "уважаемая", "добрый день"},
}

var closingPatterns = map[string][]string{
	"en": {"best regards", "kind regards", "sincerely", "best,", "regards", "thank you"},
	"de": {"mit freundlichen grüßen", "viele grüße", "beste grüße", "danke"},
	"fr": {"cordialement", "bien à vous", "merci", "sincères salutations"},
	"es": {"saludos", "atentamente", "un cordial saludo", "gracias"},
	"it": {"cordiali saluti", "distinti saluti", "grazie", "a presto"},
	"ru": {"с уважением", "всего доброго", "спасибо", "хорошего дня"},
}

// ValidationWarning is a non-fatal finding about a draft.
type ValidationWarning struct {
	Reason string
}

// Validator checks generated drafts before they are stored.
type Validator struct {
	MinLen int
	MaxLen int
}

// NewValidator creates a validator with the given bounds (zero means default).
func NewValidator(minLen, maxLen int) *Validator {
	if minLen <= 0 {
		minLen = DefaultDraftMinLen
	}
	if maxLen <= 0 {
		maxLen = DefaultDraftMaxLen
	}
	return &Validator{MinLen: minLen, MaxLen: maxLen}
}

// Validate checks the draft. Length and language mismatches are errors;
// a missing greeting/closing only produces warnings.
func (v *Validator) Validate(draft, expectedLanguage string, tone domain.Tone) ([]ValidationWarning, error) {
	draft = strings.TrimSpace(draft)

	n := len([]rune(draft))
	if n < v.MinLen {
		return nil, apperr.ValidationFailed(fmt.Sprintf("draft too short: %d < %d characters", n, v.MinLen))
	}
	if n > v.MaxLen {
		return nil, apperr.ValidationFailed(fmt.Sprintf("draft too long: %d > %d characters", n, v.MaxLen))
	}

	if expectedLanguage != "" {
		if got := DetectLanguage(draft); got != expectedLanguage {
			return nil, apperr.ValidationFailed(fmt.Sprintf("draft language %q does not match expected %q", got, expectedLanguage))
		}
	}

	var warnings []ValidationWarning
	lower := strings.ToLower(draft)
	if !containsAny(lower, greetingPatterns[expectedLanguage]) {
		warnings = append(warnings, ValidationWarning{Reason: "no greeting pattern for language " + expectedLanguage})
	}
	if !containsAny(lower, closingPatterns[expectedLanguage]) {
		warnings = append(warnings, ValidationWarning{Reason: "no closing pattern for language " + expectedLanguage})
	}
	return warnings, nil
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	// Unknown language: nothing to check against, treat as present.
	return len(patterns) == 0
}
