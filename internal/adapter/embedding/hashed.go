// Package embedding provides the deterministic hashed bag-of-terms embedder.
// It is a projection, not a learned embedding: bucket collisions are expected
// and intentional.
package embedding

import (
	"math"

	"ragserve/internal/adapter/analyzer"
)

// DefaultDimension is used when the caller passes a non-positive dimension.
const DefaultDimension = 256

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// HashedEmbedder maps token hashes into a fixed number of buckets and scales
// per-bucket counts by log(1+count) before L2 normalization.
type HashedEmbedder struct {
	dim int
}

// NewHashedEmbedder creates an embedder with the given dimension.
func NewHashedEmbedder(dim int) *HashedEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashedEmbedder{dim: dim}
}

func (e *HashedEmbedder) Dimension() int { return e.dim }

// Embed returns a deterministic vector for text. The output is L2-normalized
// unless the text produced no tokens, in which case it is the zero vector.
func (e *HashedEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := analyzer.Tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	counts := make(map[int]int, len(tokens))
	for _, tok := range tokens {
		counts[int(fnv1a(tok)%uint32(e.dim))]++
	}
	for idx, n := range counts {
		vec[idx] = float32(math.Log1p(float64(n)))
	}
	return l2Normalize(vec)
}

func fnv1a(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
