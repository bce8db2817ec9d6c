package domain

// EmailMessage is the normalized message shape used for prompt context.
type EmailMessage struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Date      string `json:"date"` // ISO-8601
	ThreadID  string `json:"thread_id"`
}

// ContextMetadata reports how the context was assembled and trimmed.
type ContextMetadata struct {
	ThreadLength     int    `json:"thread_length"` // original thread size
	SemanticCount    int    `json:"semantic_count"`
	AdaptiveK        int    `json:"adaptive_k"`
	ThreadTokens     int    `json:"thread_tokens"`
	SemanticTokens   int    `json:"semantic_tokens"`
	TotalTokensUsed  int    `json:"total_tokens_used"`
	OldestThreadDate string `json:"oldest_thread_date,omitempty"`
}

// RAGContext is the bounded prior-correspondence context fed to prompts.
// ThreadHistory is chronological; SemanticResults are ranked by ascending
// vector distance with date as tiebreaker.
type RAGContext struct {
	ThreadHistory   []EmailMessage  `json:"thread_history"`
	SemanticResults []EmailMessage  `json:"semantic_results"`
	Metadata        ContextMetadata `json:"metadata"`
}

// IsEmpty returns true if no context at all could be assembled.
func (c *RAGContext) IsEmpty() bool {
	return len(c.ThreadHistory) == 0 && len(c.SemanticResults) == 0
}
