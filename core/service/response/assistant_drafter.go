package response

import (
	"context"
	"fmt"
	"strings"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
)

// Per-email truncation limits for the prompt sections.
const (
	threadSectionLimit   = 500
	senderSectionLimit   = 700
	semanticSectionLimit = 500
)

const draftSystemPrompt = `You write email replies on behalf of the mailbox owner. Reply to the email below using the provided correspondence history. Write only the reply body, no subject line, no commentary.`

// Drafter generates reply drafts for emails classified as needing a
// response. Re-invokable: classification sometimes returns the draft
// inline, and this service covers the cases where it did not.
type Drafter struct {
	llm       out.LLMClient
	queue     out.QueueRepository
	validator *Validator
	log       *logger.Logger
}

// NewDrafter creates the drafter.
func NewDrafter(llm out.LLMClient, queue out.QueueRepository, validator *Validator) *Drafter {
	return &Drafter{
		llm:       llm,
		queue:     queue,
		validator: validator,
		log:       logger.Default().WithField("component", "drafter"),
	}
}

// Generate produces and persists a reply draft. body is the cleaned
// incoming email body; ragContext may be nil. Language and tone are
// detected here when classification left them empty.
func (d *Drafter) Generate(ctx context.Context, item *domain.EmailQueueItem, body string, ragContext *domain.RAGContext) (string, error) {
	lang := item.DetectedLanguage
	if lang == "" {
		lang = DetectLanguage(body)
	}

	var tone domain.Tone
	if item.Tone != nil {
		tone = *item.Tone
	} else {
		tone = DetectTone(item.Sender, item.Subject, body)
	}

	prompt := BuildDraftPrompt(item, body, ragContext, lang, tone)

	draft, err := d.llm.CompleteText(ctx, draftSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	draft = strings.TrimSpace(draft)

	warnings, err := d.validator.Validate(draft, lang, tone)
	if err != nil {
		return "", apperr.AsAppError(err).WithDetail("email_id", item.ID)
	}
	for _, w := range warnings {
		d.log.WithEmail(item.ID).Warn("draft validation: %s", w.Reason)
	}

	if err := d.queue.SaveDraft(ctx, item.ID, draft); err != nil {
		return "", err
	}
	item.DraftResponse = &draft
	item.DetectedLanguage = lang
	item.Tone = &tone
	return draft, nil
}

// BuildDraftPrompt assembles the sectioned response prompt: the email,
// thread history, sender history and related mail, plus the target
// language/tone with greeting and closing exemplars.
func BuildDraftPrompt(item *domain.EmailQueueItem, body string, ragContext *domain.RAGContext, lang string, tone domain.Tone) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Email to answer:\nFrom: %s\nSubject: %s\nBody: %s\n", item.Sender, item.Subject, body)

	var thread, senderHistory, semantic []domain.EmailMessage
	if ragContext != nil {
		thread = ragContext.ThreadHistory
		senderAddr := rag.SenderAddress(item.Sender)
		for _, m := range ragContext.SemanticResults {
			if rag.SenderAddress(m.Sender) == senderAddr {
				senderHistory = append(senderHistory, m)
			} else {
				semantic = append(semantic, m)
			}
		}
	}

	writeSection(&sb, "Thread history", thread, threadSectionLimit)
	writeSection(&sb, "Past emails from this sender", senderHistory, senderSectionLimit)
	writeSection(&sb, "Related correspondence", semantic, semanticSectionLimit)

	fmt.Fprintf(&sb, "\nWrite the reply in language %q with a %s tone.\n", lang, tone)
	if greetings := greetingPatterns[lang]; len(greetings) > 0 {
		fmt.Fprintf(&sb, "Open with a greeting such as: %s.\n", strings.Join(greetings[:min(3, len(greetings))], ", "))
	}
	if closings := closingPatterns[lang]; len(closings) > 0 {
		fmt.Fprintf(&sb, "Close with a phrase such as: %s.\n", strings.Join(closings[:min(3, len(closings))], ", "))
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, msgs []domain.EmailMessage, limit int) {
	if len(msgs) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, m := range msgs {
		fmt.Fprintf(sb, "[%s] %s: %s — %s\n", m.Date, m.Sender, m.Subject, rag.TruncateChars(m.Body, limit))
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
