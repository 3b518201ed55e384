package database

import (
	"encoding/json"
	"fmt"
	"math"
)

// Embeddings are stored as JSON float arrays so the column stays readable
// from any SQLite client.
func encodeEmbedding(vec []float32) (string, error) {
	data, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("encoding embedding: %w", err)
	}
	return string(data), nil
}

func decodeEmbedding(raw string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	return vec, nil
}

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector. Both must have the same length.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
