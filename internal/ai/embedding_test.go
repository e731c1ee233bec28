package ai

import (
	"context"
	"math"
	"reflect"
	"testing"

	"elibrary-rag/internal/config"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(EmbeddingDim)
	ctx := context.Background()

	first, err := e.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	second, err := e.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("identical input must produce bit-identical vectors")
	}
}

func TestHashEmbedder_Dimension(t *testing.T) {
	e := NewHashEmbedder(EmbeddingDim)
	vec, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != EmbeddingDim {
		t.Errorf("vector length = %d, want %d", len(vec), EmbeddingDim)
	}
	if e.Dimension() != EmbeddingDim {
		t.Errorf("Dimension() = %d, want %d", e.Dimension(), EmbeddingDim)
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	e := NewHashEmbedder(EmbeddingDim)

	for _, text := range []string{"a", "chapter one", "совершенно другой текст", "1234567890"} {
		vec, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed(%q) failed: %v", text, err)
		}

		var sum float64
		for _, x := range vec {
			sum += float64(x) * float64(x)
		}
		norm := math.Sqrt(sum)
		if math.Abs(norm-1.0) > 1e-4 {
			t.Errorf("Embed(%q) norm = %v, want 1.0", text, norm)
		}
	}
}

func TestHashEmbedder_DistinctInputs(t *testing.T) {
	e := NewHashEmbedder(EmbeddingDim)
	ctx := context.Background()

	a, err := e.Embed(ctx, "first text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := e.Embed(ctx, "second text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if reflect.DeepEqual(a, b) {
		t.Error("different inputs should produce different vectors")
	}
}

func TestNewEmbedder_DefaultsToHash(t *testing.T) {
	cfg := &config.Config{EmbeddingsProvider: "hash", VectorDimension: 384}
	e, err := NewEmbedder(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewEmbedder failed: %v", err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Fatalf("expected *HashEmbedder, got %T", e)
	}
	if e.Dimension() != 384 {
		t.Errorf("Dimension() = %d, want 384", e.Dimension())
	}
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	cfg := &config.Config{EmbeddingsProvider: "mystery"}
	if _, err := NewEmbedder(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
