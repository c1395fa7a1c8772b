package embedding

import "math"

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeL2 scales v to unit length in place.
// Returns false if v has zero norm, leaving it untouched.
func NormalizeL2(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return true
}
