package domain

import (
	"strings"
	"testing"
)

func TestClassificationResultClamp(t *testing.T) {
	r := &ClassificationResult{
		PriorityScore: 150,
		Confidence:    1.7,
		Reasoning:     strings.Repeat("x", 400),
		Tone:          "sarcastic",
	}
	r.Clamp()

	if r.PriorityScore != 100 {
		t.Errorf("expected priority score clamped to 100, got %d", r.PriorityScore)
	}
	if r.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %f", r.Confidence)
	}
	if len(r.Reasoning) != 300 {
		t.Errorf("expected reasoning truncated to 300 chars, got %d", len(r.Reasoning))
	}
	if r.DetectedLanguage != "en" {
		t.Errorf("expected empty language to fall back to en, got %q", r.DetectedLanguage)
	}
	if r.Tone != string(ToneProfessional) {
		t.Errorf("expected unknown tone to fall back to professional, got %q", r.Tone)
	}

	neg := &ClassificationResult{PriorityScore: -5, Confidence: -0.2, Tone: "formal", DetectedLanguage: "de"}
	neg.Clamp()
	if neg.PriorityScore != 0 || neg.Confidence != 0 {
		t.Errorf("expected negative values clamped to zero, got %d / %f", neg.PriorityScore, neg.Confidence)
	}
	if neg.Tone != "formal" || neg.DetectedLanguage != "de" {
		t.Error("valid tone and language must survive clamping")
	}
}

func TestClassificationResultClass(t *testing.T) {
	needs := &ClassificationResult{NeedsResponse: true}
	if needs.Class() != ClassificationNeedsResponse {
		t.Error("needs_response true should map to needs_response class")
	}
	sort := &ClassificationResult{NeedsResponse: false}
	if sort.Class() != ClassificationSortOnly {
		t.Error("needs_response false should map to sort_only class")
	}
}

func TestEmailStatusIsTerminal(t *testing.T) {
	terminal := []EmailStatus{StatusCompleted, StatusRejected, StatusResponseSent, StatusError}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []EmailStatus{StatusPending, StatusProcessing, StatusAwaitingApproval, StatusAwaitingDraftApproval}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestEmailQueueItemHelpers(t *testing.T) {
	item := &EmailQueueItem{}
	if item.NeedsResponse() || item.HasDraft() || item.ReplySent() {
		t.Error("zero-value item should have no classification, draft or sent mark")
	}

	class := ClassificationNeedsResponse
	draft := "Hello, thanks for reaching out."
	item.Classification = &class
	item.DraftResponse = &draft
	if !item.NeedsResponse() || !item.HasDraft() {
		t.Error("expected NeedsResponse and HasDraft to be true")
	}

	empty := ""
	item.DraftResponse = &empty
	if item.HasDraft() {
		t.Error("empty draft should not count as a draft")
	}
}
