package response

import (
	"strings"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
)

// formalMarkers signal official correspondence; any one of them is
// enough. Casual markers are checked second, professional is the rest.
var formalMarkers = []string{
	"sehr geehrte", "dear sir", "dear madam", "to whom it may concern",
	"mit freundlichen grüßen", "yours sincerely", "yours faithfully",
	"уважаемый", "уважаемая", "estimado", "estimada", "madame, monsieur",
}

var casualMarkers = []string{
	"hey", "hi!", "yo ", "lol", "thx", "cheers!", "btw", ":)", ":-)", "привет",
}

// formalDomainSuffixes mark senders whose mail is formal regardless of
// wording (tax offices do not write "hey").
var formalDomainSuffixes = []string{
	".gov", ".gouv.fr", ".gov.uk", ".gov.de", ".gc.ca", ".go.kr", ".gov.au",
	".edu", ".ac.uk",
}

// DetectTone derives the reply tone from the sender and the incoming
// text. Falls back to professional.
func DetectTone(sender, subject, body string) domain.Tone {
	domainName := rag.SenderDomain(sender)
	for _, s := range formalDomainSuffixes {
		if strings.HasSuffix(domainName, s) {
			return domain.ToneFormal
		}
	}

	text := strings.ToLower(subject + " " + body)
	for _, m := range formalMarkers {
		if strings.Contains(text, m) {
			return domain.ToneFormal
		}
	}
	for _, m := range casualMarkers {
		if strings.Contains(text, m) {
			return domain.ToneCasual
		}
	}
	return domain.ToneProfessional
}
