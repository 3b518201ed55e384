package llm

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// DefaultTargetDimensions is the stored embedding width.
const DefaultTargetDimensions = 1536

// NativeDimensions lists the embedding width each backend emits.
var NativeDimensions = map[string]int{
	"gemini":   768,
	"openai":   1536,
	"cohere":   1024,
	"mistral":  1024,
	"together": 1024,
	"ollama":   768,
}

// Adapt fits vec to target dimensions. Shorter vectors are right-padded with
// zeros so the original prefix is preserved; longer vectors are truncated.
// The input slice is never modified.
func Adapt(vec []float32, target int) []float32 {
	switch {
	case len(vec) == target:
		return vec
	case len(vec) < target:
		out := make([]float32, target)
		copy(out, vec)
		return out
	default:
		zap.L().Warn("truncating embedding",
			zap.Int("from", len(vec)),
			zap.Int("to", target),
			zap.Int("lost", len(vec)-target),
		)
		out := make([]float32, target)
		copy(out, vec[:target])
		return out
	}
}

// Validate rejects vectors of the wrong width or with non-finite components.
func Validate(vec []float32, expected int) error {
	if len(vec) != expected {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), expected)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("embedding component %d is not finite", i)
		}
	}
	return nil
}
