// Package vector provides the similarity math used for ranking chunk
// embeddings.
package vector

import (
	"math"

	"docmind/pkg/domain"
)

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Vectors of different lengths are rejected; a zero vector yields
// a zero score rather than NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.Ef(domain.ErrKindValidation, "vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Mean returns the element-wise mean of the given vectors. Used as the
// representative vector for a multi-chunk document.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, len(vectors[0]))
	count := 0
	for _, vec := range vectors {
		if len(vec) != len(out) {
			continue
		}
		for i, v := range vec {
			out[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range out {
		out[i] /= float32(count)
	}
	return out
}
