// Package textsim provides the text and vector similarity primitives used by
// stream assignment, segment alignment, and boundary cut refinement.
package textsim

import (
	"math"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Normalize collapses whitespace runs to single spaces and trims the ends.
// Niqqud stripping and final-letter folding are left to the scorer.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TokenSetScore returns a symmetric token-set similarity between two texts
// in [0, 1]. Either side empty scores 0.
func TokenSetScore(a, b string) float64 {
	an := Normalize(a)
	bn := Normalize(b)
	if an == "" || bn == "" {
		return 0
	}
	// forceAscii off: inputs are Hebrew/Aramaic.
	return float64(fuzzy.TokenSetRatio(an, bn, false, true)) / 100.0
}

// TokenSortScore returns an order-insensitive similarity between two texts
// in [0, 1]. Unlike TokenSetScore it penalizes length mismatch, so a
// partial line range never outranks the complete one. Either side empty
// scores 0.
func TokenSortScore(a, b string) float64 {
	an := Normalize(a)
	bn := Normalize(b)
	if an == "" || bn == "" {
		return 0
	}
	return float64(fuzzy.TokenSortRatio(an, bn, false, true)) / 100.0
}

// WordScore returns a plain edit-distance ratio between two words on the
// 0-100 scale used by boundary cut matching.
func WordScore(a, b string) float64 {
	an := Normalize(a)
	bn := Normalize(b)
	if an == "" || bn == "" {
		return 0
	}
	return float64(fuzzy.Ratio(an, bn))
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// and zero-magnitude vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na <= 0 || nb <= 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MeanVec returns the elementwise mean of the given vectors. Returns nil
// for an empty input.
func MeanVec(vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	n := float64(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}
