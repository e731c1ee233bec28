package ai

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"elibrary-rag/internal/config"
)

// EmbeddingDim is the fixed dimensionality of every vector in a collection.
const EmbeddingDim = 384

// Embedder converts free text into a fixed-length vector representation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder is a deterministic development stand-in for a real embedding
// model: components are derived from the md5 digest of the text and
// L2-normalized. Identical input always yields a bit-identical vector, so
// querying with a stored chunk's exact text scores 1.0 against that chunk.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = EmbeddingDim
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	_ = ctx

	sum := md5.Sum([]byte(text))
	digest := hex.EncodeToString(sum[:])

	// Read 2-hex-digit windows, cycling through the digest. The window at
	// the last offset is a single digit; that asymmetry is part of the
	// deterministic contract and is kept as-is.
	vec := make([]float64, e.dim)
	for i := 0; i < e.dim; i++ {
		start := i % len(digest)
		end := start + 2
		if end > len(digest) {
			end = len(digest)
		}
		b, err := strconv.ParseUint(digest[start:end], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("parse digest window: %w", err)
		}
		vec[i] = float64(b)/255.0*2.0 - 1.0
	}

	var sumSquares float64
	for _, x := range vec {
		sumSquares += x * x
	}
	magnitude := math.Sqrt(sumSquares)

	out := make([]float32, e.dim)
	for i, x := range vec {
		if magnitude > 0 {
			out[i] = float32(x / magnitude)
		} else {
			out[i] = float32(x)
		}
	}
	return out, nil
}

// NewEmbedder selects the embedding provider from configuration. The hash
// placeholder is the default; "google" substitutes the Gemini embeddings API
// without touching any caller.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingsProvider {
	case "hash", "":
		return NewHashEmbedder(cfg.VectorDimension), nil
	case "google":
		return NewGeminiEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}
