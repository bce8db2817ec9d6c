package rag

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	stylePattern      = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanBody strips HTML and normalizes whitespace for prompt and
// embedding input.
func CleanBody(body string) string {
	body = stylePattern.ReplaceAllString(body, " ")
	body = htmlTagPattern.ReplaceAllString(body, " ")
	body = html.UnescapeString(body)
	body = whitespacePattern.ReplaceAllString(body, " ")
	return strings.TrimSpace(body)
}

// TruncateChars shortens text to at most maxLen characters, preferring a
// word boundary when one is close enough.
func TruncateChars(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	cut := text[:maxLen]
	if idx := strings.LastIndexByte(cut, ' '); idx >= maxLen*3/4 {
		cut = cut[:idx]
	}
	return cut
}

// SenderLocalPart returns the local part of an email address
// ("alice" for "alice@example.com").
func SenderLocalPart(sender string) string {
	addr := sender
	if start := strings.LastIndexByte(addr, '<'); start >= 0 {
		if end := strings.IndexByte(addr[start:], '>'); end > 0 {
			addr = addr[start+1 : start+end]
		}
	}
	if at := strings.IndexByte(addr, '@'); at > 0 {
		return strings.TrimSpace(addr[:at])
	}
	return strings.TrimSpace(addr)
}

// SenderDomain returns the domain of an email address, lowercased.
func SenderDomain(sender string) string {
	addr := sender
	if start := strings.LastIndexByte(addr, '<'); start >= 0 {
		if end := strings.IndexByte(addr[start:], '>'); end > 0 {
			addr = addr[start+1 : start+end]
		}
	}
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		return strings.ToLower(strings.TrimSpace(addr[at+1:]))
	}
	return ""
}

// SenderAddress returns the bare address from a possibly display-named
// sender header value.
func SenderAddress(sender string) string {
	addr := sender
	if start := strings.LastIndexByte(addr, '<'); start >= 0 {
		if end := strings.IndexByte(addr[start:], '>'); end > 0 {
			addr = addr[start+1 : start+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}
