// Package vecmath provides the pure numeric kernel used by the similarity
// engine: dot product, magnitude, cosine similarity, and stable top-K
// ranking over []float32 embedding vectors. All functions are stateless and
// O(d) in the vector dimension; none perform I/O.
package vecmath

import (
	"fmt"
	"math"
	"sort"
)

// normEpsilon is the tolerance used to decide that a vector is already
// L2-normalized. Embeddings produced by the embedding service are normalized
// at generation time, so cosine similarity usually reduces to a dot product.
const normEpsilon = 1e-4

// DimensionMismatchError reports an operation on two vectors of different
// lengths, which indicates embeddings from incompatible models.
type DimensionMismatchError struct {
	// LenA and LenB are the lengths of the two operands.
	LenA, LenB int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vecmath: dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

// Dot returns the dot product of a and b.
// Returns a DimensionMismatchError if the lengths differ.
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}
	// Accumulate in float64 to limit rounding drift on long vectors.
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum), nil
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// Normalize scales v in place to unit length. A zero vector is left unchanged.
func Normalize(v []float32) {
	mag := Magnitude(v)
	if mag == 0 {
		return
	}
	for i := range v {
		v[i] /= mag
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Value-equal inputs return exactly 1.0. When both magnitudes are
// already within normEpsilon of 1 the division is skipped, which keeps
// results numerically stable for pre-normalized embeddings.
// Returns a DimensionMismatchError if the lengths differ.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}
	if equal(a, b) {
		return 1.0, nil
	}

	var dot, sumA, sumB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		sumA += float64(a[i]) * float64(a[i])
		sumB += float64(b[i]) * float64(b[i])
	}

	if math.Abs(sumA-1) <= normEpsilon && math.Abs(sumB-1) <= normEpsilon {
		return clamp(float32(dot)), nil
	}

	denom := math.Sqrt(sumA) * math.Sqrt(sumB)
	if denom == 0 {
		return 0, nil
	}
	return clamp(float32(dot / denom)), nil
}

// Ranked is a single entry in a top-K ranking: the candidate's position in
// the input slice and its similarity score.
type Ranked struct {
	// Index is the candidate's position in the input slice passed to RankTopK.
	Index int
	// Score is the cosine similarity against the query vector.
	Score float32
}

// RankTopK scores every candidate against query and returns at most k
// results with Score >= minScore, ordered by score descending. Candidates
// below minScore are dropped before truncation, so k reflects qualifying
// matches only. The sort is stable: ties keep input order, which makes
// rankings reproducible.
// Returns a DimensionMismatchError if any candidate's length differs from
// the query's.
func RankTopK(query []float32, candidates [][]float32, k int, minScore float32) ([]Ranked, error) {
	if k <= 0 || len(candidates) == 0 {
		return nil, nil
	}

	ranked := make([]Ranked, 0, len(candidates))
	for i, c := range candidates {
		score, err := CosineSimilarity(query, c)
		if err != nil {
			return nil, fmt.Errorf("vecmath: candidate %d: %w", i, err)
		}
		if score < minScore {
			continue
		}
		ranked = append(ranked, Ranked{Index: i, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// equal reports whether a and b are value-equal. Lengths are assumed to match.
func equal(a, b []float32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// clamp bounds s to [-1, 1] to absorb floating-point overshoot.
func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
