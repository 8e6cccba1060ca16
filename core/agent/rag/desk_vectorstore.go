package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorStore is a pgvector-backed knowledge index. Rows from every tenant
// live in one table; Query returns org ids so the caller can filter.
type VectorStore struct {
	pool *pgxpool.Pool
}

func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

// Query returns the topK nearest chunks by cosine distance, best first.
func (s *VectorStore) Query(ctx context.Context, embedding []float32, topK int) ([]domain.KnowledgeChunk, error) {
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, content, 1 - (embedding <=> $1) AS score
		FROM kb_chunks
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var chunks []domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Text, &c.Similarity); err != nil {
			return nil, fmt.Errorf("vector scan: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Upsert writes chunks with their embeddings, replacing matching ids.
func (s *VectorStore) Upsert(ctx context.Context, chunks []domain.KnowledgeChunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("vector upsert: %d chunks with %d embeddings", len(chunks), len(embeddings))
	}

	for i, c := range chunks {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO kb_chunks (id, org_id, content, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			c.ID, c.OrgID, c.Text, pgVector(embeddings[i]))
		if err != nil {
			return fmt.Errorf("vector upsert %s: %w", c.ID, err)
		}
	}
	return nil
}

// pgVector renders a float32 slice as a pgvector literal: [0.1,0.2,...]
func pgVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ out.KnowledgeIndexPort = (*VectorStore)(nil)
