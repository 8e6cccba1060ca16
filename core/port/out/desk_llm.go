package out

import "context"

// CompletionPort is the language-model boundary. Callers own JSON-schema
// validation of whatever comes back.
type CompletionPort interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)

	// CompleteJSON forces a JSON object response format.
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// EmbeddingPort turns text into vectors for the knowledge index.
type EmbeddingPort interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
