package index

import "math"

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	return 1 - clampCosine(dotProduct/(math.Sqrt(normA)*math.Sqrt(normB)))
}

// Similarity returns cosine similarity normalised to [0,1]: negative cosines
// (pointing away from each other) score 0, positive cosines keep their value.
func Similarity(a, b []float32) float64 {
	return normalizeScore(1 - CosineDistance(a, b))
}

func normalizeScore(cos float64) float64 {
	if cos < 0 || math.IsNaN(cos) {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

// Clamp to [-1, 1] to handle floating point errors
func clampCosine(c float64) float64 {
	if c > 1 {
		return 1
	}
	if c < -1 {
		return -1
	}
	return c
}

// vectorNorm returns the L2 norm and whether every component is finite.
func vectorNorm(v []float32) (float64, bool) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		sum += f * f
	}
	return math.Sqrt(sum), true
}
