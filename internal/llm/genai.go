package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"incident-agent/internal/config"
)

// Chat produces a single completion for a prompt. The agent executor drives
// the reasoning loop through this one method.
type Chat interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder maps text to a vector for runbook retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeminiClient implements Chat and Embedder against the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

// NewGeminiClient builds the client once at startup; it is shared by the
// executor and the runbook search tool.
func NewGeminiClient(ctx context.Context, cfg config.Config) (*GeminiClient, error) {
	if cfg.GenAIAPIKey == "" {
		return nil, fmt.Errorf("missing AI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GenAIAPIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{
		client:         client,
		model:          cfg.GenAIModel,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// Generate runs a deterministic completion. Temperature is pinned to zero:
// investigation output must be reproducible enough to review.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	}
	res, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}

// Embed returns the embedding vector for a text.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, fmt.Errorf("empty embedding result")
	}
	return res.Embeddings[0].Values, nil
}
