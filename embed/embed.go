// Package embed provides text embedding via an external OpenAI-compatible
// provider, plus vector blob serialization and cosine similarity.
//
// The pipeline never computes embeddings itself; provider availability and
// latency are external concerns, so every call is rate limited and bounded
// by a context timeout, and transport failures surface as dependency errors.
package embed

import (
	"math"

	"github.com/tracefield/tracefield/errors"
)

// Cosine returns the cosine similarity of two vectors in [-1, 1].
// Mismatched lengths or a zero vector yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Serialize converts a vector to its FLOAT32 little-endian blob form.
func Serialize(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, errors.New("vector cannot be empty")
	}

	buf := make([]byte, len(vector)*4)
	for i, val := range vector {
		bits := math.Float32bits(val)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf, nil
}

// Deserialize converts a FLOAT32 little-endian blob back to a vector.
func Deserialize(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Newf("invalid embedding blob length: %d", len(data))
	}

	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
