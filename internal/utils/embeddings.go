package utils

import "math"

// SparseVector maps feature index to weight; absent features are zero.
type SparseVector map[int]float64

// Dot calculates the dot product of two sparse vectors.
func Dot(vec1, vec2 SparseVector) float64 {
	if len(vec2) < len(vec1) {
		vec1, vec2 = vec2, vec1
	}
	var product float64
	for idx, v := range vec1 {
		product += v * vec2[idx]
	}
	return product
}

// Norm calculates the L2 norm (magnitude) of a vector.
func Norm(vec SparseVector) float64 {
	var sumOfSquares float64
	for _, v := range vec {
		sumOfSquares += v * v
	}
	return math.Sqrt(sumOfSquares)
}

// Normalize scales vec in place to unit length. Zero vectors are left untouched.
func Normalize(vec SparseVector) {
	n := Norm(vec)
	if n == 0 {
		return
	}
	for idx := range vec {
		vec[idx] /= n
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// An empty or all-zero vector has similarity 0 with everything.
func CosineSimilarity(vec1, vec2 SparseVector) float64 {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0
	}
	mag1 := Norm(vec1)
	mag2 := Norm(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0
	}
	return Dot(vec1, vec2) / (mag1 * mag2)
}
