package persistence

import (
	"context"
	"database/sql"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// JobAdapter implements out.JobRepository and out.DocumentRepository using
// PostgreSQL. Jobs are rows, not in-process state, so progress survives a
// worker restart and any instance can pick the work up.
type JobAdapter struct {
	db *sqlx.DB
}

// NewJobAdapter creates a new JobAdapter.
func NewJobAdapter(db *sqlx.DB) *JobAdapter {
	return &JobAdapter{db: db}
}

type jobRow struct {
	ID        uuid.UUID      `db:"id"`
	OrgID     uuid.UUID      `db:"org_id"`
	Kind      string         `db:"kind"`
	State     string         `db:"state"`
	Total     int            `db:"total"`
	Indexed   int            `db:"indexed"`
	Error     sql.NullString `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *jobRow) toEntity() *domain.ImportJob {
	job := &domain.ImportJob{
		ID:        r.ID,
		OrgID:     r.OrgID,
		Kind:      r.Kind,
		State:     domain.JobState(r.State),
		Total:     r.Total,
		Indexed:   r.Indexed,
		Error:     r.Error.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	job.Percent = job.Progress()
	return job
}

// Create inserts a new job record.
func (a *JobAdapter) Create(ctx context.Context, job *domain.ImportJob) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO import_jobs (id, org_id, kind, state, total, indexed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.OrgID, job.Kind, string(job.State), job.Total, job.Indexed)
	return err
}

// GetByID gets a job by id.
func (a *JobAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.ImportJob, error) {
	var row jobRow
	err := a.db.QueryRowxContext(ctx, `
		SELECT id, org_id, kind, state, total, indexed, error, created_at, updated_at
		FROM import_jobs WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("import job")
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// UpdateProgress records batch completion counters.
func (a *JobAdapter) UpdateProgress(ctx context.Context, id uuid.UUID, indexed, total int) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE import_jobs SET indexed = $1, total = $2, updated_at = NOW()
		WHERE id = $3`, indexed, total, id)
	return err
}

// MarkState transitions the job lifecycle state.
func (a *JobAdapter) MarkState(ctx context.Context, id uuid.UUID, state domain.JobState, errMsg string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE import_jobs SET state = $1, error = $2, updated_at = NOW()
		WHERE id = $3`, string(state), nullStr(errMsg), id)
	return err
}

// StoreDocuments stages raw documents for the import worker.
func (a *JobAdapter) StoreDocuments(ctx context.Context, jobID uuid.UUID, docs []string) error {
	for i, doc := range docs {
		if _, err := a.db.ExecContext(ctx, `
			INSERT INTO import_documents (job_id, position, content)
			VALUES ($1, $2, $3)`, jobID, i, doc); err != nil {
			return err
		}
	}
	return nil
}

// ListDocuments returns staged documents in submission order.
func (a *JobAdapter) ListDocuments(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT content FROM import_documents
		WHERE job_id = $1
		ORDER BY position ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		docs = append(docs, content)
	}
	return docs, rows.Err()
}

var (
	_ out.JobRepository      = (*JobAdapter)(nil)
	_ out.DocumentRepository = (*JobAdapter)(nil)
)
