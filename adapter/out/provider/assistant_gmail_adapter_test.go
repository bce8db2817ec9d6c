package provider

import (
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
)

func TestWrapErrorTaxonomy(t *testing.T) {
	c := &GmailClient{}

	cases := []struct {
		code int
		want string
	}{
		{401, apperr.CodeAuthExpired},
		{404, apperr.CodeNotFound},
		{429, apperr.CodeRateLimited},
		{400, apperr.CodeInvalidRequest},
		{413, apperr.CodeMessageTooLarge},
		{500, apperr.CodeServerError},
		{503, apperr.CodeServerError},
	}
	for _, tc := range cases {
		err := c.wrapError(&googleapi.Error{Code: tc.code}, "send")
		if !apperr.IsCode(err, tc.want) {
			t.Errorf("status %d mapped to %v, want %s", tc.code, err, tc.want)
		}
	}
}

type scriptedTokenSource struct{ toks []*oauth2.Token }

func (s *scriptedTokenSource) Token() (*oauth2.Token, error) {
	tok := s.toks[0]
	if len(s.toks) > 1 {
		s.toks = s.toks[1:]
	}
	return tok, nil
}

func TestPersistingTokenSourceReportsRotationOnce(t *testing.T) {
	var rotations []*oauth2.Token
	src := &persistingTokenSource{
		src: &scriptedTokenSource{toks: []*oauth2.Token{
			{AccessToken: "initial"},
			{AccessToken: "rotated"},
		}},
		lastAccess: "initial",
		onRefresh:  func(tok *oauth2.Token) { rotations = append(rotations, tok) },
	}

	// The original token is not a rotation.
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if len(rotations) != 0 {
		t.Fatalf("unchanged token must not fire onRefresh, got %d calls", len(rotations))
	}

	// A refreshed access token fires exactly once.
	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "rotated" {
		t.Fatalf("unexpected token %q", tok.AccessToken)
	}
	if len(rotations) != 1 || rotations[0].AccessToken != "rotated" {
		t.Fatalf("expected one rotation callback, got %+v", rotations)
	}

	// Re-reading the same rotated token stays quiet.
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if len(rotations) != 1 {
		t.Errorf("repeated reads fired onRefresh again: %d calls", len(rotations))
	}
}

func TestBuildRawMessage(t *testing.T) {
	raw := BuildRawMessage(&out.OutgoingMail{
		To:         "alice@example.com",
		Subject:    "Re: Invoice 42",
		Body:       "Hello Alice,\r\nthe invoice is attached.",
		BodyType:   out.BodyTypePlain,
		InReplyTo:  "<msg-2@example.com>",
		References: "<msg-1@example.com> <msg-2@example.com>",
	})

	headers, body, found := strings.Cut(raw, "\r\n\r\n")
	if !found {
		t.Fatal("raw message must separate headers and body with a blank line")
	}
	for _, want := range []string{
		"To: alice@example.com",
		"Subject: Re: Invoice 42",
		"In-Reply-To: <msg-2@example.com>",
		"References: <msg-1@example.com> <msg-2@example.com>",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	} {
		if !strings.Contains(headers, want) {
			t.Errorf("missing header %q in:\n%s", want, headers)
		}
	}
	if body != "Hello Alice,\r\nthe invoice is attached." {
		t.Errorf("unexpected body %q", body)
	}
}

func TestBuildRawMessageOmitsEmptyThreadingHeaders(t *testing.T) {
	raw := BuildRawMessage(&out.OutgoingMail{
		To:       "bob@example.com",
		Subject:  "Hi",
		Body:     "<b>hello</b>",
		BodyType: out.BodyTypeHTML,
	})

	if strings.Contains(raw, "In-Reply-To") || strings.Contains(raw, "References") {
		t.Error("fresh messages must not carry threading headers")
	}
	if !strings.Contains(raw, "Content-Type: text/html") {
		t.Error("HTML body must set the html content type")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "alice@example.com"},
		{"Alice Smith <alice@example.com>", "alice@example.com"},
		{"\"Smith, Alice\" <alice@example.com>", "alice@example.com"},
		{"not an address", "not an address"},
	}
	for _, tt := range tests {
		if got := parseAddress(tt.in); got != tt.want {
			t.Errorf("parseAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAddressList(t *testing.T) {
	got := parseAddressList("Alice <alice@example.com>, bob@example.com")
	if len(got) != 2 || got[0] != "alice@example.com" || got[1] != "bob@example.com" {
		t.Errorf("parseAddressList = %v", got)
	}
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	part := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<p>hello</p>")}},
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc("hello")}},
		},
	}

	text, html := extractBody(part)
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
	if html != "<p>hello</p>" {
		t.Errorf("html = %q", html)
	}
}

func TestExtractBodyNestedParts(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	part := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc("nested body")}},
				},
			},
		},
	}

	text, _ := extractBody(part)
	if text != "nested body" {
		t.Errorf("text = %q", text)
	}
}
