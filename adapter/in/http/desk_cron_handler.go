package http

import (
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"
	"helpdesk_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CronHandler exposes the scheduled-trigger endpoints. The routes are
// guarded by CronAuth; an external scheduler hits them on its own cadence.
type CronHandler struct {
	watches   in.WatchService
	inbound   in.InboundService
	sweepSize int
}

func NewCronHandler(watches in.WatchService, inbound in.InboundService, sweepSize int) *CronHandler {
	return &CronHandler{
		watches:   watches,
		inbound:   inbound,
		sweepSize: sweepSize,
	}
}

func (h *CronHandler) Register(router fiber.Router) {
	router.Post("/watches/renew", h.RenewWatches)
	router.Post("/sweep/unclassified", h.SweepUnclassified)
	router.Post("/mailboxes/poll", h.PollMailbox)
}

// RenewWatches renews every expiring mailbox watch and reports per-mailbox
// outcomes. A mailbox failure never fails the batch.
func (h *CronHandler) RenewWatches(c *fiber.Ctx) error {
	summary, err := h.watches.RenewAll(c.Context())
	if err != nil {
		return err
	}

	logger.Info("Watch renewal sweep: total=%d, renewed=%d, skipped=%d, failed=%d",
		summary.Total, summary.Renewed, summary.Skipped, summary.Failed)
	return response.OK(c, summary)
}

// SweepUnclassified re-runs the pipeline over records stuck in the
// unknown classification.
func (h *CronHandler) SweepUnclassified(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.sweepSize)

	outcome, err := h.inbound.SweepUnclassified(c.Context(), limit)
	if err != nil {
		return err
	}
	return response.OK(c, outcome)
}

type pollRequest struct {
	EmailAddress string `json:"email_address"`
}

// PollMailbox runs the fetch-and-process path for one mailbox without a
// push payload. Backstop for dropped notifications.
func (h *CronHandler) PollMailbox(c *fiber.Ctx) error {
	var req pollRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.EmailAddress == "" {
		req.EmailAddress = c.Query("email")
	}
	if req.EmailAddress == "" {
		return apperr.MissingField("email_address")
	}

	outcome, err := h.inbound.PollMailbox(c.Context(), req.EmailAddress)
	if err != nil {
		return err
	}
	return response.OK(c, outcome)
}
