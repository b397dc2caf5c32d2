// Package similarity ranks candidate embedding vectors against a query
// vector: thresholded, top-K, deterministic ordering. It is a thin
// domain layer over the vecmath kernel and holds no state.
package similarity

import (
	"fmt"

	"github.com/mnemo-ai/mnemo-go/internal/vecmath"
)

// Candidate is one vector in the corpus being searched.
type Candidate struct {
	// ID identifies the candidate to the caller (e.g. a note ID).
	ID string
	// Vector is the candidate's embedding.
	Vector []float32
}

// Match is a qualifying candidate with its similarity score.
type Match struct {
	// ID is the candidate's identifier.
	ID string
	// Score is the cosine similarity against the query, in [-1, 1].
	Score float32
}

// Options tunes a FindSimilar call.
type Options struct {
	// TopK bounds the result count. Values <= 0 mean unbounded.
	TopK int
	// MinScore drops candidates scoring below it before TopK truncation,
	// so TopK reflects qualifying matches only.
	MinScore float32
	// Exclude lists candidate IDs to skip, typically the query's own
	// record so it does not match itself.
	Exclude map[string]struct{}
}

// Engine performs similarity searches. Stateless; the zero value is usable.
type Engine struct{}

// NewEngine returns an Engine.
func NewEngine() *Engine { return &Engine{} }

// FindSimilar scores every non-excluded candidate against query and returns
// at most TopK matches with Score >= MinScore, descending, ties in input
// order. An empty candidate list yields an empty result, not an error.
// A candidate whose dimension differs from the query's surfaces a
// *vecmath.DimensionMismatchError.
func (e *Engine) FindSimilar(query []float32, candidates []Candidate, opts Options) ([]Match, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, skip := opts.Exclude[c.ID]; skip {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(kept))
	for i, c := range kept {
		vectors[i] = c.Vector
	}

	k := opts.TopK
	if k <= 0 {
		k = len(kept)
	}

	ranked, err := vecmath.RankTopK(query, vectors, k, opts.MinScore)
	if err != nil {
		return nil, fmt.Errorf("similarity: %w", err)
	}

	matches := make([]Match, len(ranked))
	for i, r := range ranked {
		matches[i] = Match{ID: kept[r.Index].ID, Score: r.Score}
	}
	return matches, nil
}
