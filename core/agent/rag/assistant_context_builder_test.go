package rag

import (
	"strings"
	"testing"

	"assistant_server/core/domain"
)

func newTestBuilder(cfg ContextConfig) *ContextBuilder {
	return NewContextBuilder(nil, nil, nil, nil, nil, cfg)
}

func TestAdaptiveK(t *testing.T) {
	b := newTestBuilder(DefaultContextConfig())

	tests := []struct {
		threadLength int
		want         int
	}{
		{0, 7},
		{1, 7},
		{2, 7},
		{3, 3},
		{5, 3},
		{6, 0},
		{20, 0},
	}

	for _, tt := range tests {
		if got := b.AdaptiveK(tt.threadLength); got != tt.want {
			t.Errorf("AdaptiveK(%d) = %d, want %d", tt.threadLength, got, tt.want)
		}
	}
}

func TestComposeQuery(t *testing.T) {
	q := ComposeQuery("Alice <alice@example.com>", "Invoice 42", "<p>Please find attached the invoice.</p>")

	if !strings.HasPrefix(q, "From alice about Invoice 42:") {
		t.Errorf("unexpected query prefix: %q", q)
	}
	if !strings.Contains(q, "Please find attached the invoice.") {
		t.Errorf("query should carry the cleaned body excerpt: %q", q)
	}
	if strings.Contains(q, "<p>") {
		t.Error("query must not contain raw HTML")
	}
}

func TestApplyTokenBudgetTrimsOldestThreadFirst(t *testing.T) {
	msg := func(id, body string) domain.EmailMessage {
		return domain.EmailMessage{MessageID: id, Sender: "a@b.com", Subject: "s", Body: body}
	}

	thread := []domain.EmailMessage{
		msg("t1", strings.Repeat("old thread text ", 20)),
		msg("t2", strings.Repeat("new thread text ", 20)),
	}
	semantic := []domain.EmailMessage{
		msg("s1", strings.Repeat("best match text ", 20)),
		msg("s2", strings.Repeat("worst match text ", 20)),
	}

	// Budget covers the semantic results plus the newest thread message,
	// so exactly the oldest thread message must be dropped.
	b := newTestBuilder(DefaultContextConfig())
	budget := b.countMessages(semantic) + b.countMessage(thread[1])
	b.cfg.MaxContextTokens = budget

	ctx := &domain.RAGContext{ThreadHistory: thread, SemanticResults: semantic}
	b.applyTokenBudget(ctx)

	if len(ctx.ThreadHistory) != 1 || ctx.ThreadHistory[0].MessageID != "t2" {
		t.Fatalf("expected only the newest thread message to survive, got %+v", ctx.ThreadHistory)
	}
	if len(ctx.SemanticResults) != 2 {
		t.Fatalf("semantic results should be untouched, got %d", len(ctx.SemanticResults))
	}
	if ctx.Metadata.TotalTokensUsed > budget {
		t.Errorf("total %d exceeds budget %d", ctx.Metadata.TotalTokensUsed, budget)
	}
	if ctx.Metadata.SemanticCount != 2 {
		t.Errorf("semantic count metadata should be 2, got %d", ctx.Metadata.SemanticCount)
	}
}

func TestApplyTokenBudgetDropsLowestRankedSemanticLast(t *testing.T) {
	msg := func(id, body string) domain.EmailMessage {
		return domain.EmailMessage{MessageID: id, Sender: "a@b.com", Subject: "s", Body: body}
	}

	semantic := []domain.EmailMessage{
		msg("s1", strings.Repeat("keep ", 30)),
		msg("s2", strings.Repeat("drop ", 30)),
	}

	// No thread history; budget fits only the top-ranked result.
	b := newTestBuilder(DefaultContextConfig())
	b.cfg.MaxContextTokens = b.countMessage(semantic[0])

	ctx := &domain.RAGContext{SemanticResults: semantic}
	b.applyTokenBudget(ctx)

	if len(ctx.SemanticResults) != 1 || ctx.SemanticResults[0].MessageID != "s1" {
		t.Fatalf("expected the top-ranked result to survive, got %+v", ctx.SemanticResults)
	}
}

func TestApplyTokenBudgetKeepsEverythingUnderBudget(t *testing.T) {
	b := newTestBuilder(ContextConfig{MaxContextTokens: 1 << 20})
	ctx := &domain.RAGContext{
		ThreadHistory:   []domain.EmailMessage{{Body: "a"}, {Body: "b"}},
		SemanticResults: []domain.EmailMessage{{Body: "c"}},
	}
	b.applyTokenBudget(ctx)

	if len(ctx.ThreadHistory) != 2 || len(ctx.SemanticResults) != 1 {
		t.Error("nothing should be trimmed under a large budget")
	}
}
