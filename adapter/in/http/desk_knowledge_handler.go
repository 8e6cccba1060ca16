package http

import (
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/infra/middleware"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// KnowledgeHandler manages knowledge-base imports for the retrieval index.
type KnowledgeHandler struct {
	knowledge in.KnowledgeService
}

func NewKnowledgeHandler(knowledge in.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

func (h *KnowledgeHandler) Register(router fiber.Router) {
	router.Post("/knowledge/import", h.StartImport)
	router.Get("/knowledge/import/:jobId", h.JobStatus)
}

type importRequest struct {
	Documents []string `json:"documents"`
}

// StartImport creates an import job and queues it for chunking and
// embedding. Returns 202 with the job id for polling.
func (h *KnowledgeHandler) StartImport(c *fiber.Ctx) error {
	orgID, err := middleware.OrgID(c)
	if err != nil {
		return err
	}

	var req importRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(req.Documents) == 0 {
		return apperr.MissingField("documents")
	}

	job, err := h.knowledge.StartImport(c.Context(), orgID, req.Documents)
	if err != nil {
		return err
	}
	return response.Accepted(c, job)
}

func (h *KnowledgeHandler) JobStatus(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("jobId"))
	if err != nil {
		return apperr.BadRequest("invalid job id")
	}

	orgID, err := middleware.OrgID(c)
	if err != nil {
		return err
	}

	job, err := h.knowledge.JobStatus(c.Context(), jobID)
	if err != nil {
		return err
	}
	if job.OrgID != orgID {
		return apperr.NotFound("import job")
	}
	return response.OK(c, job)
}
