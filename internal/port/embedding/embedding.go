// Package embedding defines the text embedding provider port (interface).
package embedding

import "context"

// Provider converts text into dense vector embeddings for semantic search.
type Provider interface {
	// Embed returns one embedding vector per input text, in the same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the length of vectors this provider produces.
	Dimension() int
}
