// Package response implements reply drafting: language and tone
// detection, prompt assembly and draft validation.
package response

import (
	"strings"
	"unicode"
)

// languageMarkers are common function words per language, matched as
// whole lowercase tokens. Latin-script languages are told apart by
// these; non-Latin scripts are detected by rune ranges first.
var languageMarkers = map[string][]string{
	"de": {"und", "der", "die", "das", "nicht", "ist", "sie", "ich", "mit", "für", "sehr", "geehrte"},
	"fr": {"le", "la", "les", "est", "vous", "nous", "pour", "avec", "merci", "bonjour", "cordialement"},
	"es": {"el", "los", "las", "es", "usted", "para", "con", "gracias", "hola", "saludos"},
	"it": {"il", "gli", "sono", "lei", "per", "con", "grazie", "ciao", "cordiali"},
	"ru": {"и", "не", "что", "это", "как", "вы", "спасибо", "здравствуйте"},
	"en": {"the", "and", "is", "you", "for", "with", "thanks", "hello", "regards", "dear"},
}

// DetectLanguage guesses the language of text from its script and
// function words. Falls back to "en".
func DetectLanguage(text string) string {
	if lang := detectScript(text); lang != "" {
		return lang
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return "en"
	}

	best, bestHits := "en", 0
	for lang, markers := range languageMarkers {
		hits := 0
		for _, m := range markers {
			if tokens[m] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	if bestHits == 0 {
		return "en"
	}
	return best
}

// detectScript classifies by rune ranges. A handful of runes is enough:
// mixed-script mail (quoted English below a Russian reply) should follow
// the dominant script.
func detectScript(text string) string {
	var cyrillic, kana, han, hangul, total int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		}
		if total >= 400 {
			break
		}
	}
	if total == 0 {
		return ""
	}

	switch {
	case cyrillic*2 > total:
		return "ru"
	case kana > 0 && (kana+han)*2 > total:
		return "ja"
	case hangul*2 > total:
		return "ko"
	case han*2 > total:
		return "zh"
	}
	return ""
}

func tokenize(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}
