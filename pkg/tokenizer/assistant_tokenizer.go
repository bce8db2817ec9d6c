// Package tokenizer counts prompt tokens for context-budget enforcement.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackCharsPerToken approximates GPT-4 tokenization when the encoder
// cannot be loaded (offline environments without the BPE ranks).
const fallbackCharsPerToken = 4

// Counter counts tokens using the cl100k_base encoding with a character
// estimate fallback.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter creates a token counter. Encoder loading is deferred to first use.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Truncate shortens text to at most maxTokens tokens. With the encoder
// unavailable it falls back to the character estimate.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}
	if enc := c.encoder(); enc != nil {
		ids := enc.Encode(text, nil, nil)
		if len(ids) <= maxTokens {
			return text
		}
		return enc.Decode(ids[:maxTokens])
	}
	maxChars := maxTokens * fallbackCharsPerToken
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// Estimate approximates the token count at ~4 characters per token.
func Estimate(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	tokens := n / fallbackCharsPerToken
	if n%fallbackCharsPerToken != 0 {
		tokens++
	}
	return tokens
}
