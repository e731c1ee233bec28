package ai

import (
	"context"
	"fmt"

	"elibrary-rag/internal/config"
	"elibrary-rag/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder is a real embedding provider backed by the Google
// Generative AI embeddings API (text-embedding-004 by default).
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.Config) (*GeminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{
		client: client,
		model:  cfg.GoogleEmbeddingsModel,
		dim:    cfg.GoogleEmbeddingDim,
	}, nil
}

func (g *GeminiEmbedder) Dimension() int { return g.dim }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := g.client.EmbeddingModel(g.model)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("%w: no embedding returned", models.ErrEmbedding)
	}
	return resp.Embedding.Values, nil
}

func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
