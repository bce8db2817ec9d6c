package http

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/response"
)

// Error-rate thresholds for the stats health verdict: below 5% errored
// is healthy, up to 15% degraded, above that unhealthy.
const (
	healthyErrorRate  = 0.05
	degradedErrorRate = 0.15
)

// jobPublisher is the slice of the stream producer the admin API needs.
type jobPublisher interface {
	PublishWorkflowStart(ctx context.Context, emailID int64) (string, error)
	PublishIndexingStart(ctx context.Context, userID int64) (string, error)
}

// AdminHandler exposes operator endpoints.
type AdminHandler struct {
	queue    out.QueueRepository
	dlq      out.DLQRepository
	producer jobPublisher
}

func NewAdminHandler(queue out.QueueRepository, dlq out.DLQRepository, producer jobPublisher) *AdminHandler {
	return &AdminHandler{
		queue:    queue,
		dlq:      dlq,
		producer: producer,
	}
}

func (h *AdminHandler) Register(router fiber.Router) {
	router.Get("/errors", h.ListErrors)
	router.Get("/stats", h.Stats)
	router.Post("/retry/:id", h.Retry)
	router.Get("/dlq", h.ListDLQ)
	router.Post("/dlq/:id/resolve", h.ResolveDLQ)
	router.Post("/indexing/:user_id/start", h.StartIndexing)
}

// ListErrors returns errored queue rows, newest first. Supports
// ?user_id= and limit/offset pagination.
func (h *AdminHandler) ListErrors(c *fiber.Ctx) error {
	p := response.GetPagination(c, 50, 200)

	var userID *int64
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperr.ValidationFailed("user_id must be an integer")
		}
		userID = &id
	}

	items, err := h.queue.ListErrored(c.Context(), userID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, items, &response.Meta{
		Page:     p.Page,
		PageSize: p.Limit,
		HasMore:  len(items) == p.Limit,
	})
}

// Stats returns queue counts by status, error counts by taxonomy type,
// and an overall health verdict derived from the error rate.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	statusCounts, err := h.queue.CountByStatus(c.Context())
	if err != nil {
		return err
	}
	errorCounts, err := h.queue.CountErrorsByType(c.Context())
	if err != nil {
		return err
	}

	var total, errored int64
	for status, n := range statusCounts {
		total += n
		if status == domain.StatusError {
			errored = n
		}
	}

	health := "healthy"
	var errorRate float64
	if total > 0 {
		errorRate = float64(errored) / float64(total)
		switch {
		case errorRate > degradedErrorRate:
			health = "unhealthy"
		case errorRate > healthyErrorRate:
			health = "degraded"
		}
	}

	return response.OK(c, fiber.Map{
		"health":         health,
		"error_rate":     errorRate,
		"total_emails":   total,
		"by_status":      statusCounts,
		"errors_by_type": errorCounts,
	})
}

// Retry re-arms an errored row and enqueues a fresh workflow run.
func (h *AdminHandler) Retry(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.ValidationFailed("id must be an integer")
	}

	if err := h.queue.ResetForRetry(c.Context(), id); err != nil {
		return err
	}
	if _, err := h.producer.PublishWorkflowStart(c.Context(), id); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"email_id": id, "status": "retry_queued"})
}

// ListDLQ returns unresolved dead-letter rows.
func (h *AdminHandler) ListDLQ(c *fiber.Ctx) error {
	p := response.GetPagination(c, 50, 200)
	items, err := h.dlq.ListUnresolved(c.Context(), p.Limit)
	if err != nil {
		return err
	}
	return response.OK(c, items)
}

// ResolveDLQ marks a dead-letter row as handled.
func (h *AdminHandler) ResolveDLQ(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.ValidationFailed("id must be an integer")
	}
	if err := h.dlq.MarkResolved(c.Context(), id); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"dlq_id": id, "status": "resolved"})
}

// StartIndexing enqueues a historical backfill for a user.
func (h *AdminHandler) StartIndexing(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return apperr.ValidationFailed("user_id must be an integer")
	}
	if _, err := h.producer.PublishIndexingStart(c.Context(), userID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"user_id": userID, "status": "indexing_queued"})
}
