// Package distance provides the vector similarity kernels used by the
// similarity index and the record store.
//
// All kernels accumulate in float64 so results are independent of how a
// candidate set is partitioned for parallel evaluation.
package distance

import "math"

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm calculates the Euclidean (L2) norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// Cosine calculates the cosine similarity of two vectors, computing both
// magnitudes on the fly. If either vector has zero magnitude the
// similarity is 0; the function never divides by zero.
func Cosine(a, b []float32) float32 {
	return CosineWithMagnitudes(a, b, Norm(a), Norm(b))
}

// CosineWithMagnitudes calculates cosine similarity using precomputed
// magnitudes, avoiding the norm recomputation during search over stores
// that cache them. A zero magnitude on either side yields 0.
func CosineWithMagnitudes(a, b []float32, magA, magB float32) float32 {
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(Dot(a, b) / (float64(magA) * float64(magB)))
}
