package domain

// ClassificationResult is the structured output of the classification
// prompt. Fields arrive from the LLM as JSON and are clamped before use.
type ClassificationResult struct {
	SuggestedFolder  string  `json:"suggested_folder"`
	Reasoning        string  `json:"reasoning"`
	PriorityScore    int     `json:"priority_score"` // 0-100
	Confidence       float64 `json:"confidence"`     // 0-1
	NeedsResponse    bool    `json:"needs_response"`
	ResponseDraft    *string `json:"response_draft"`
	DetectedLanguage string  `json:"detected_language"` // ISO-639-1
	Tone             string  `json:"tone"`
}

const maxReasoningLen = 300

// Clamp forces out-of-range fields into their allowed ranges.
func (r *ClassificationResult) Clamp() {
	if r.PriorityScore < 0 {
		r.PriorityScore = 0
	}
	if r.PriorityScore > 100 {
		r.PriorityScore = 100
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if len(r.Reasoning) > maxReasoningLen {
		r.Reasoning = r.Reasoning[:maxReasoningLen]
	}
	if r.DetectedLanguage == "" {
		r.DetectedLanguage = "en"
	}
	switch Tone(r.Tone) {
	case ToneFormal, ToneProfessional, ToneCasual:
	default:
		r.Tone = string(ToneProfessional)
	}
}

// Class returns the handling class implied by the result.
func (r *ClassificationResult) Class() Classification {
	if r.NeedsResponse {
		return ClassificationNeedsResponse
	}
	return ClassificationSortOnly
}
