package worker

import (
	"context"

	"github.com/goccy/go-json"

	"assistant_server/pkg/logger"
	"assistant_server/pkg/metrics"
)

type Handler struct {
	mailProcessor     *MailProcessor
	workflowProcessor *WorkflowProcessor
	indexingProcessor *IndexingProcessor
	notifyProcessor   *NotifyProcessor
}

func NewHandler(
	mailProcessor *MailProcessor,
	workflowProcessor *WorkflowProcessor,
	indexingProcessor *IndexingProcessor,
	notifyProcessor *NotifyProcessor,
) *Handler {
	return &Handler{
		mailProcessor:     mailProcessor,
		workflowProcessor: workflowProcessor,
		indexingProcessor: indexingProcessor,
		notifyProcessor:   notifyProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	err := h.dispatch(ctx, msg)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.JobsProcessed.WithLabelValues(msg.Type, outcome).Inc()
	return err
}

func (h *Handler) dispatch(ctx context.Context, msg *Message) error {
	switch msg.Type {
	case JobMailPoll:
		return h.mailProcessor.ProcessPoll(ctx, msg)

	case JobWorkflowStart:
		return h.workflowProcessor.ProcessStart(ctx, msg)
	case JobWorkflowResume:
		return h.workflowProcessor.ProcessResume(ctx, msg)

	case JobIndexingStart:
		return h.indexingProcessor.ProcessStart(ctx, msg)
	case JobIndexingResume:
		return h.indexingProcessor.ProcessResume(ctx, msg)
	case JobIndexingSupervise:
		return h.indexingProcessor.ProcessSupervise(ctx, msg)
	case JobIndexingCleanup:
		return h.indexingProcessor.ProcessCleanup(ctx, msg)

	case JobNotifyFlush:
		return h.notifyProcessor.ProcessFlush(ctx, msg)

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
