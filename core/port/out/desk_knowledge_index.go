package out

import (
	"context"

	"helpdesk_worker/core/domain"
)

// KnowledgeIndexPort is the vector similarity index over embedded
// knowledge-base chunks. The index is multi-tenant; the CALLER is
// responsible for filtering results to the requesting tenant.
type KnowledgeIndexPort interface {
	Query(ctx context.Context, embedding []float32, topK int) ([]domain.KnowledgeChunk, error)
	Upsert(ctx context.Context, chunks []domain.KnowledgeChunk, embeddings [][]float32) error
}
