package http

import (
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/infra/middleware"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// DraftHandler exposes the draft lifecycle to the dashboard. Every route
// re-checks that the chat record belongs to the caller's tenant before
// touching it.
type DraftHandler struct {
	drafts in.DraftService
	chats  out.ChatRepository
}

func NewDraftHandler(drafts in.DraftService, chats out.ChatRepository) *DraftHandler {
	return &DraftHandler{
		drafts: drafts,
		chats:  chats,
	}
}

func (h *DraftHandler) Register(router fiber.Router) {
	router.Put("/drafts/:chatId", h.StoreDraft)
	router.Post("/drafts/:chatId/send", h.Send)
	router.Post("/drafts/:chatId/discard", h.Discard)
}

type storeDraftRequest struct {
	Text       string   `json:"text"`
	References []string `json:"references"`
}

func (h *DraftHandler) StoreDraft(c *fiber.Ctx) error {
	chatID, err := h.authorizeChat(c)
	if err != nil {
		return err
	}

	var req storeDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Text == "" {
		return apperr.MissingField("text")
	}

	if err := h.drafts.StoreDraft(c.Context(), chatID, req.Text, req.References); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"chat_id": chatID})
}

func (h *DraftHandler) Send(c *fiber.Ctx) error {
	chatID, err := h.authorizeChat(c)
	if err != nil {
		return err
	}

	receipt, err := h.drafts.Send(c.Context(), chatID)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{
		"chat_id":    chatID,
		"message_id": receipt.MessageID,
		"thread_id":  receipt.ThreadID,
	})
}

func (h *DraftHandler) Discard(c *fiber.Ctx) error {
	chatID, err := h.authorizeChat(c)
	if err != nil {
		return err
	}

	if err := h.drafts.Discard(c.Context(), chatID); err != nil {
		return err
	}
	return response.NoContent(c)
}

// authorizeChat parses the chat id and verifies the record belongs to the
// caller's tenant. Cross-tenant ids are reported as not found so the route
// does not leak record existence.
func (h *DraftHandler) authorizeChat(c *fiber.Ctx) (uuid.UUID, error) {
	chatID, err := uuid.Parse(c.Params("chatId"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid chat id")
	}

	orgID, err := middleware.OrgID(c)
	if err != nil {
		return uuid.Nil, err
	}

	rec, err := h.chats.GetByID(c.Context(), chatID)
	if err != nil {
		return uuid.Nil, err
	}
	if rec.OrgID != orgID {
		return uuid.Nil, apperr.NotFound("chat record")
	}
	return chatID, nil
}
