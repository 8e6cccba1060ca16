package domain

// Label is the classification verdict for an inbound message.
type Label string

const (
	LabelShouldRespond Label = "should_respond"
	LabelNoResponse    Label = "no_response"
	LabelUnknown       Label = "unknown"
)

// ValidLabel reports whether s is one of the three allowed labels.
func ValidLabel(s string) bool {
	switch Label(s) {
	case LabelShouldRespond, LabelNoResponse, LabelUnknown:
		return true
	}
	return false
}

// ClassificationResult is the immutable output of the classification stage.
// Confidence is 0-100.
type ClassificationResult struct {
	Label      Label
	Confidence int
}

// UnknownClassification is the degradation fallback when the completion
// service fails or returns garbage.
func UnknownClassification() ClassificationResult {
	return ClassificationResult{Label: LabelUnknown, Confidence: 50}
}

// KnowledgeChunk is one retrieved knowledge-base fragment.
type KnowledgeChunk struct {
	ID         string
	OrgID      string
	Text       string
	Similarity float64
}

// RagResult is the immutable output of the retrieval-response stage.
// References holds chunk ids ordered by similarity descending.
type RagResult struct {
	Answer     string
	Confidence int
	References []string
}

// NotEnoughInfo is the short-circuit result when retrieval finds nothing for
// the tenant, and the degradation fallback for synthesis failures.
func NotEnoughInfo() RagResult {
	return RagResult{Answer: "Not enough info.", Confidence: 50, References: []string{}}
}

// ProcessOutcome summarizes one message's trip through the pipeline.
type ProcessOutcome struct {
	ChatID        string
	TicketID      string
	Label         Label
	Confidence    int
	AutoResponded bool
	DraftStored   bool
	Skipped       bool
	SkipReason    string
}

// BatchOutcome is the partial-success summary of one notification batch.
type BatchOutcome struct {
	Fetched   int              `json:"fetched"`
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Outcomes  []ProcessOutcome `json:"-"`
}
