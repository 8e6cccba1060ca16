package llm

import (
	"context"
	"strings"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
)

const classifySystemPrompt = `You are an email classifier for a support desk.
Decide if this inbound email is a real support question that needs a response or not.
Return a JSON object with "classification": one of ("should_respond","no_response","unknown"),
and "confidence": an integer from 0 to 100.
Respond ONLY with valid JSON.
If uncertain, put classification = "unknown".
If it is obviously spam or marketing, classification = "no_response".
Otherwise classification = "should_respond".`

const maxClassifyBody = 2000

// Classifier decides whether an inbound message needs a response. Any
// transport or parse failure degrades to {unknown, 50}; classification must
// never block ticket creation or message storage.
type Classifier struct {
	llm out.CompletionPort
}

func NewClassifier(llm out.CompletionPort) *Classifier {
	return &Classifier{llm: llm}
}

// Classify returns the label and confidence for the given body text.
func (c *Classifier) Classify(ctx context.Context, body string) domain.ClassificationResult {
	user := "Email Text:\n" + truncate(body, maxClassifyBody) +
		"\n\nReturn JSON only: { \"classification\": \"...\", \"confidence\": 0-100 }"

	raw, err := c.llm.CompleteJSON(ctx, classifySystemPrompt, user)
	if err != nil {
		logger.WithError(err).Warn("Classification call failed, degrading to unknown")
		return domain.UnknownClassification()
	}

	result, err := parseClassification(raw)
	if err != nil {
		logger.WithField("raw", truncate(raw, 200)).Warn("Classification parse failed: %v", err)
		return domain.UnknownClassification()
	}
	return result
}

type classifyResponse struct {
	Classification string `json:"classification"`
	Confidence     *int   `json:"confidence"`
}

// parseClassification validates the strict JSON contract. Models sometimes
// wrap JSON in markdown fences even in JSON mode, so fences are stripped
// first.
func parseClassification(raw string) (domain.ClassificationResult, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var resp classifyResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return domain.ClassificationResult{}, err
	}
	if !domain.ValidLabel(resp.Classification) {
		return domain.ClassificationResult{}, errInvalidLabel(resp.Classification)
	}
	if resp.Confidence == nil {
		return domain.ClassificationResult{}, errMissingConfidence
	}

	return domain.ClassificationResult{
		Label:      domain.Label(resp.Classification),
		Confidence: clampConfidence(*resp.Confidence),
	}, nil
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
