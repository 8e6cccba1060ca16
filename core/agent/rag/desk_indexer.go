package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/in"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultChunkSize    = 1500
	defaultChunkOverlap = 300
	embedBatchSize      = 32
)

// Indexer runs knowledge-base imports: chunk, embed in batches, upsert into
// the vector index, and keep the durable job record current so a polling
// client sees progress even across restarts.
type Indexer struct {
	jobs      out.JobRepository
	docs      out.DocumentRepository
	embedder  out.EmbeddingPort
	index     out.KnowledgeIndexPort
	publisher out.MessagePublisher
}

func NewIndexer(jobs out.JobRepository, docs out.DocumentRepository, embedder out.EmbeddingPort, index out.KnowledgeIndexPort, publisher out.MessagePublisher) *Indexer {
	return &Indexer{
		jobs:      jobs,
		docs:      docs,
		embedder:  embedder,
		index:     index,
		publisher: publisher,
	}
}

// StartImport stages the documents, records a queued job, and enqueues the
// actual work for the worker pool.
func (ix *Indexer) StartImport(ctx context.Context, orgID uuid.UUID, documents []string) (*domain.ImportJob, error) {
	job := &domain.ImportJob{
		ID:        uuid.New(),
		OrgID:     orgID,
		Kind:      "kb_import",
		State:     domain.JobQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := ix.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}
	if err := ix.docs.StoreDocuments(ctx, job.ID, documents); err != nil {
		return nil, fmt.Errorf("stage documents: %w", err)
	}
	if _, err := ix.publisher.PublishKnowledgeImport(ctx, job.ID, orgID); err != nil {
		return nil, fmt.Errorf("enqueue import: %w", err)
	}
	return job, nil
}

// JobStatus returns the durable progress record.
func (ix *Indexer) JobStatus(ctx context.Context, jobID uuid.UUID) (*domain.ImportJob, error) {
	return ix.jobs.GetByID(ctx, jobID)
}

// RunImport executes a staged import job.
func (ix *Indexer) RunImport(ctx context.Context, jobID uuid.UUID) error {
	job, err := ix.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load import job: %w", err)
	}

	documents, err := ix.docs.ListDocuments(ctx, jobID)
	if err != nil {
		return ix.fail(ctx, jobID, fmt.Errorf("load documents: %w", err))
	}

	var chunks []domain.KnowledgeChunk
	for d, doc := range documents {
		for i, text := range SplitIntoChunks(doc, defaultChunkSize, defaultChunkOverlap) {
			chunks = append(chunks, domain.KnowledgeChunk{
				ID:    fmt.Sprintf("%s_%d_%d", jobID, d, i),
				OrgID: job.OrgID.String(),
				Text:  text,
			})
		}
	}

	if err := ix.jobs.MarkState(ctx, jobID, domain.JobRunning, ""); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	indexed := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return ix.fail(ctx, jobID, fmt.Errorf("embed batch: %w", err))
		}
		if err := ix.index.Upsert(ctx, batch, embeddings); err != nil {
			return ix.fail(ctx, jobID, fmt.Errorf("index batch: %w", err))
		}

		indexed += len(batch)
		if err := ix.jobs.UpdateProgress(ctx, jobID, indexed, len(chunks)); err != nil {
			logger.WithError(err).Warn("Failed to update import progress for job %s", jobID)
		}
	}

	if err := ix.jobs.MarkState(ctx, jobID, domain.JobDone, ""); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	logger.WithField("job_id", jobID.String()).Info("Knowledge import finished: %d chunks", indexed)
	return nil
}

func (ix *Indexer) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	if err := ix.jobs.MarkState(ctx, jobID, domain.JobFailed, cause.Error()); err != nil {
		logger.WithError(err).Error("Failed to mark import job %s failed", jobID)
	}
	return cause
}

// SplitIntoChunks splits text into word-preserving chunks of roughly
// chunkSize characters with overlapping tails.
func SplitIntoChunks(text string, chunkSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	length := 0

	for _, word := range words {
		if length+len(word) > chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			keep := overlap / 10
			if keep > len(current) {
				keep = len(current)
			}
			current = append([]string(nil), current[len(current)-keep:]...)
			length = len(strings.Join(current, " "))
		}
		current = append(current, word)
		length += len(word) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

var _ in.KnowledgeService = (*Indexer)(nil)
