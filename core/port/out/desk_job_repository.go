package out

import (
	"context"

	"helpdesk_worker/core/domain"

	"github.com/google/uuid"
)

// JobRepository persists long-running job progress for polling clients.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ImportJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, indexed, total int) error
	MarkState(ctx context.Context, id uuid.UUID, state domain.JobState, errMsg string) error
}

// DocumentRepository stages raw knowledge-base documents between the import
// request and the worker that chunks and embeds them.
type DocumentRepository interface {
	StoreDocuments(ctx context.Context, jobID uuid.UUID, docs []string) error
	ListDocuments(ctx context.Context, jobID uuid.UUID) ([]string, error)
}
