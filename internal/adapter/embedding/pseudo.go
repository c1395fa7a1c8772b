package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// PseudoEmbedding derives a deterministic unit vector of length dim from b.
//
// The SHA-256 digest of b seeds a 64-bit xorshift generator; each of the dim
// outputs keeps its low 32 bits and maps them to [-0.5, 0.5) before the
// vector is L2-normalized. Identical input always yields a bit-identical vector.
//
// Only the indexing path may use this, when the extractor is exhausted.
func PseudoEmbedding(b []byte, dim int) []float32 {
	if dim <= 0 {
		return nil
	}

	digest := sha256.Sum256(b)
	state := binary.BigEndian.Uint64(digest[:8])

	out := make([]float32, dim)
	var sum float64
	for i := range out {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		r := uint32(state)

		out[i] = float32(float64(r%100000)/100000 - 0.5)
		sum += float64(out[i]) * float64(out[i])
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
