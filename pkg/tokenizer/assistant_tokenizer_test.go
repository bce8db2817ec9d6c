package tokenizer

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("a", 400), 100},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestCounterCount(t *testing.T) {
	c := NewCounter()

	if got := c.Count(""); got != 0 {
		t.Errorf("Count of empty text = %d", got)
	}
	// Exact counts depend on whether the encoder is available; either
	// path must return something positive for real text.
	if got := c.Count("hello world, this is a sentence"); got <= 0 {
		t.Errorf("Count = %d, want > 0", got)
	}
}

func TestCounterTruncate(t *testing.T) {
	c := NewCounter()

	if got := c.Truncate("anything", 0); got != "" {
		t.Errorf("zero budget should empty the text, got %q", got)
	}
	if got := c.Truncate("", 10); got != "" {
		t.Errorf("empty text stays empty, got %q", got)
	}

	short := "hi"
	if got := c.Truncate(short, 100); got != short {
		t.Errorf("text under budget must pass through, got %q", got)
	}

	long := strings.Repeat("word ", 1000)
	truncated := c.Truncate(long, 10)
	if len(truncated) >= len(long) {
		t.Error("over-budget text must shrink")
	}
	if c.Count(truncated) > 10 {
		t.Errorf("truncated text still counts %d tokens", c.Count(truncated))
	}
}
