package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder produces deterministic vectors by hashing whitespace-separated
// tokens into buckets. Identical texts always map to identical vectors and
// overlapping texts score higher than disjoint ones, which is all the
// similarity structure tests need. Not suitable for production search.
type HashEmbedder struct{}

// NewHashEmbedder returns a deterministic test embedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

// Embed implements Embedder.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, Dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%Dimension]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v, nil
}
