package rag

import (
	"context"
	"fmt"
	"strings"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
)

const answerSystemPromptFmt = `You are a knowledgeable support agent crafting email responses.
Use ONLY the following context to answer the customer's question:
%s

Guidelines:
- Be concise but specific, 3-4 short paragraphs.
- ONLY include information explicitly present in the provided context.
- Do not invent contact details, numbers, prices or dates.
- If information is not in the context, say "I don't have that information".
- Format with <p> paragraphs and <br/> line breaks.

Return a JSON object: { "answer": "...", "confidence": 0-100 } where
confidence reflects how well the context supports the answer
(0-30 not enough info, 31-70 partial, 71-100 high).`

// Responder is the retrieval-response stage: embed the query, pull the
// nearest knowledge chunks, filter them to the requesting tenant, then ask
// the completion service for an answer plus self-reported confidence.
//
// The tenant filter is a security invariant: the index is shared across
// organizations and another tenant's content must never reach a prompt.
type Responder struct {
	embedder out.EmbeddingPort
	index    out.KnowledgeIndexPort
	llm      out.CompletionPort
	minScore float64
}

func NewResponder(embedder out.EmbeddingPort, index out.KnowledgeIndexPort, llm out.CompletionPort, minScore float64) *Responder {
	return &Responder{
		embedder: embedder,
		index:    index,
		llm:      llm,
		minScore: minScore,
	}
}

// Generate produces a candidate answer for the query. Every failure path
// degrades to the "Not enough info." result instead of raising.
func (r *Responder) Generate(ctx context.Context, query, orgID string, topK int) domain.RagResult {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logger.WithError(err).Warn("RAG embed failed, degrading")
		return domain.NotEnoughInfo()
	}

	chunks, err := r.index.Query(ctx, embedding, topK)
	if err != nil {
		logger.WithError(err).Warn("RAG index query failed, degrading")
		return domain.NotEnoughInfo()
	}

	chunks = filterTenant(chunks, orgID, r.minScore)
	if len(chunks) == 0 {
		logger.WithField("org_id", orgID).Info("No relevant chunks for query, short-circuiting")
		return domain.NotEnoughInfo()
	}

	var contextStr strings.Builder
	references := make([]string, 0, len(chunks))
	for i, c := range chunks {
		fmt.Fprintf(&contextStr, "\n[Chunk %d]:\n%s\n", i+1, c.Text)
		references = append(references, c.ID)
	}

	system := fmt.Sprintf(answerSystemPromptFmt, contextStr.String())
	raw, err := r.llm.CompleteJSON(ctx, system, query)
	if err != nil {
		logger.WithError(err).Warn("RAG completion failed, degrading")
		return domain.NotEnoughInfo()
	}

	answer, confidence, err := parseAnswer(raw)
	if err != nil {
		logger.WithField("raw", truncate(raw, 200)).Warn("RAG answer parse failed: %v", err)
		return domain.NotEnoughInfo()
	}

	return domain.RagResult{
		Answer:     answer,
		Confidence: confidence,
		References: references,
	}
}

// filterTenant drops chunks from other tenants and below the similarity
// floor. Input order (similarity descending) is preserved, so equal scores
// keep their original index order.
func filterTenant(chunks []domain.KnowledgeChunk, orgID string, minScore float64) []domain.KnowledgeChunk {
	kept := chunks[:0:0]
	for _, c := range chunks {
		if c.OrgID != orgID {
			continue
		}
		if c.Similarity < minScore {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

type answerResponse struct {
	Answer     string `json:"answer"`
	Confidence *int   `json:"confidence"`
}

func parseAnswer(raw string) (string, int, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var resp answerResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return "", 0, err
	}
	if resp.Answer == "" {
		return "", 0, fmt.Errorf("answer response missing answer field")
	}

	confidence := 0
	if resp.Confidence != nil {
		confidence = *resp.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}
	}
	return resp.Answer, confidence, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
