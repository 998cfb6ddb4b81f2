package embedding

import "context"

// Dimension is the width of every vector produced by this package. Backends
// with a narrower native dimension pad with zeros so vectors from different
// backends stay comparable in storage.
const Dimension = 1536

// Embedder converts text into a fixed-width vector.
type Embedder interface {
	// Embed returns the vector for text. Implementations must return a
	// slice of exactly Dimension elements.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// pad extends v with zeros to Dimension. A vector already at or beyond
// Dimension is returned unchanged.
func pad(v []float32) []float32 {
	if len(v) >= Dimension {
		return v
	}
	out := make([]float32, Dimension)
	copy(out, v)
	return out
}
