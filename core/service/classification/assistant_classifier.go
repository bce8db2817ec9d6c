package classification

import (
	"context"
	"fmt"
	"strings"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/metrics"
)

// classifyBodyLimit bounds the body excerpt in the classification prompt.
const classifyBodyLimit = 500

const classifySystemPrompt = `You are an email sorting assistant. Classify the email into exactly one of the user's folders and decide whether it needs a reply.

Respond with JSON only:
{
  "suggested_folder": "<exact folder name from the list>",
  "reasoning": "<why, max 300 chars>",
  "priority_score": <0-100>,
  "confidence": <0.0-1.0>,
  "needs_response": <true|false>,
  "response_draft": "<a short reply draft, or null>",
  "detected_language": "<ISO-639-1 code of the email's language>",
  "tone": "<formal|professional|casual>"
}`

// Classifier implements email classification (LLM-backed with an
// automated-sender pre-filter and a rule-based outage fallback).
type Classifier struct {
	llm     out.LLMClient
	queue   out.QueueRepository
	folders out.FolderRepository
	log     *logger.Logger
}

// NewClassifier creates the classifier.
func NewClassifier(llm out.LLMClient, queue out.QueueRepository, folders out.FolderRepository) *Classifier {
	return &Classifier{
		llm:     llm,
		queue:   queue,
		folders: folders,
		log:     logger.Default().WithField("component", "classifier"),
	}
}

// Classify classifies the email and persists the result onto the queue
// row. body must already be cleaned; ragContext may be empty.
func (c *Classifier) Classify(ctx context.Context, item *domain.EmailQueueItem, body string, ragContext *domain.RAGContext) (*domain.ClassificationResult, error) {
	folders, err := c.folders.ListByUser(ctx, item.UserID)
	if err != nil {
		return nil, err
	}

	var result *domain.ClassificationResult
	if IsAutomatedSender(item.Sender) {
		result = c.prefilterResult(folders)
	} else {
		result, err = c.classifyLLM(ctx, item, body, folders, ragContext)
		if err != nil {
			if apperr.IsTransient(err) {
				// The LLM is unavailable, not wrong: fall back to rules so
				// mail keeps flowing, and count it.
				c.log.WithEmail(item.ID).WithError(err).Warn("llm unavailable, rule-based fallback")
				metrics.ClassificationFallbacks.WithLabelValues("llm_unavailable").Inc()
				result = c.prefilterResult(folders)
				result.Reasoning = "Automatic fallback: classification service unavailable"
				result.Confidence = 0.3
			} else {
				return nil, err
			}
		}
	}

	c.validate(result, folders, item)

	if err := c.persist(ctx, item, result, folders); err != nil {
		return nil, err
	}
	return result, nil
}

// prefilterResult is the synthetic result for automated senders and the
// rule-based fallback: first folder (or the default), no reply needed.
func (c *Classifier) prefilterResult(folders []domain.FolderCategory) *domain.ClassificationResult {
	folder := domain.DefaultFolderName
	if len(folders) > 0 {
		folder = folders[0].Name
	}
	return &domain.ClassificationResult{
		SuggestedFolder:  folder,
		Reasoning:        "Automated sender",
		PriorityScore:    10,
		Confidence:       1.0,
		NeedsResponse:    false,
		DetectedLanguage: "en",
		Tone:             string(domain.ToneProfessional),
	}
}

func (c *Classifier) classifyLLM(ctx context.Context, item *domain.EmailQueueItem, body string, folders []domain.FolderCategory, ragContext *domain.RAGContext) (*domain.ClassificationResult, error) {
	prompt := BuildClassifyPrompt(item, body, folders, ragContext)

	var result domain.ClassificationResult
	if err := c.llm.CompleteJSON(ctx, classifySystemPrompt, prompt, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BuildClassifyPrompt assembles the classification prompt: folders with
// descriptions, the email excerpt, and the formatted prior context.
func BuildClassifyPrompt(item *domain.EmailQueueItem, body string, folders []domain.FolderCategory, ragContext *domain.RAGContext) string {
	var sb strings.Builder

	sb.WriteString("User folders:\n")
	if len(folders) == 0 {
		fmt.Fprintf(&sb, "- %s: default folder for important mail\n", domain.DefaultFolderName)
	}
	for _, f := range folders {
		if len(f.Keywords) > 0 {
			fmt.Fprintf(&sb, "- %s: related to %s\n", f.Name, strings.Join(f.Keywords, ", "))
		} else {
			fmt.Fprintf(&sb, "- %s\n", f.Name)
		}
	}

	excerpt := rag.TruncateChars(rag.CleanBody(body), classifyBodyLimit)
	fmt.Fprintf(&sb, "\nEmail:\nFrom: %s\nSubject: %s\nBody: %s\n", item.Sender, item.Subject, excerpt)

	if ragContext != nil && !ragContext.IsEmpty() {
		sb.WriteString("\nPrior correspondence:\n")
		for _, m := range ragContext.ThreadHistory {
			fmt.Fprintf(&sb, "[thread %s] %s: %s — %s\n", m.Date, m.Sender, m.Subject, rag.TruncateChars(m.Body, 300))
		}
		for _, m := range ragContext.SemanticResults {
			fmt.Fprintf(&sb, "[related %s] %s: %s — %s\n", m.Date, m.Sender, m.Subject, rag.TruncateChars(m.Body, 300))
		}
	}

	return sb.String()
}

// validate clamps fields and forces suggested_folder onto a real folder.
func (c *Classifier) validate(result *domain.ClassificationResult, folders []domain.FolderCategory, item *domain.EmailQueueItem) {
	result.Clamp()

	if domain.FindFolderByName(folders, result.SuggestedFolder) == nil {
		c.log.WithEmail(item.ID).Warn("llm suggested unknown folder %q, using %q",
			result.SuggestedFolder, domain.DefaultFolderName)
		result.SuggestedFolder = domain.DefaultFolderName
	}
}

// persist writes the classification (and the rule-based priority, which
// wins over the model's score) onto the queue row.
func (c *Classifier) persist(ctx context.Context, item *domain.EmailQueueItem, result *domain.ClassificationResult, folders []domain.FolderCategory) error {
	class := result.Class()
	item.Classification = &class
	item.ClassificationReasoning = result.Reasoning
	item.DetectedLanguage = result.DetectedLanguage

	tone := domain.Tone(result.Tone)
	item.Tone = &tone

	if result.ResponseDraft != nil && *result.ResponseDraft != "" {
		item.DraftResponse = result.ResponseDraft
	}

	if folder := domain.FindFolderByName(folders, result.SuggestedFolder); folder != nil {
		item.ProposedFolderID = &folder.ID
	}

	item.PriorityScore = result.PriorityScore
	return c.queue.SaveClassification(ctx, item)
}
