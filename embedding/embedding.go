// Package embedding provides vector embedding generation for the semantic
// research cache. The Gemini-backed engine is the production implementation;
// StaticEngine serves tests with deterministic vectors.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical, 0 means orthogonal.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// StaticEngine is a deterministic test double returning pre-registered
// vectors by exact text match and a zero vector otherwise.
type StaticEngine struct {
	dims    int
	vectors map[string][]float32
}

// NewStaticEngine creates a StaticEngine with the given dimensionality.
func NewStaticEngine(dims int) *StaticEngine {
	return &StaticEngine{dims: dims, vectors: make(map[string][]float32)}
}

// Register associates a text with a fixed vector.
func (e *StaticEngine) Register(text string, vec []float32) { e.vectors[text] = vec }

// Embed implements Engine.
func (e *StaticEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	return make([]float32, e.dims), nil
}

// EmbedBatch implements Engine.
func (e *StaticEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements Engine.
func (e *StaticEngine) Dimensions() int { return e.dims }

// Name implements Engine.
func (e *StaticEngine) Name() string { return "static" }
