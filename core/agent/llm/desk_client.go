package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/logger"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const (
	DefaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Config for the LLM client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Client wraps the OpenAI API behind a circuit breaker. It serves both the
// completion and embedding ports.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
}

// nonBreakerError wraps failures that are the caller's fault (bad request,
// context canceled) so they do not trip the breaker.
type nonBreakerError struct {
	err error
}

func (e *nonBreakerError) Error() string { return e.err.Error() }
func (e *nonBreakerError) Unwrap() error { return e.err }

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > 5 {
				return true
			}
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			var nbe *nonBreakerError
			return err == nil || errors.As(err, &nbe)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		api:         openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		breaker:     breaker,
	}
}

func (c *Client) execute(fn func() error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		if err := fn(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	var nbe *nonBreakerError
	if errors.As(err, &nbe) {
		return nbe.err
	}
	return err
}

func (c *Client) chat(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string
	err := c.execute(func() error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return &nonBreakerError{err: err}
			}
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("chat completion: empty choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

// Complete runs a plain single-turn completion.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
}

// CompleteWithSystem runs a completion with a system prompt.
func (c *Client) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return c.chat(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
}

// CompleteJSON forces a JSON object response.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return c.chat(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
}

// Embed generates an embedding for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for a batch of texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var vectors [][]float32
	err := c.execute(func() error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.AdaEmbeddingV2,
			Input: texts,
		})
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
		}
		vectors = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vectors[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

var (
	_ out.CompletionPort = (*Client)(nil)
	_ out.EmbeddingPort  = (*Client)(nil)
)
