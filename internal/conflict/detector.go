// Package conflict classifies a new piece of text against an existing
// corpus as duplicate, contradiction, or unrelated. Cosine similarity alone
// cannot tell "same idea" from "opposite idea about the same topic" (both
// are embedding-close), so a high band short-circuits to duplicate while a
// lower band consults a lexical polarity heuristic as the second signal.
package conflict

import (
	"fmt"
	"log/slog"

	"github.com/mnemo-ai/mnemo-go/internal/similarity"
)

// Kind is the outcome of classifying one candidate pair.
type Kind string

const (
	// KindDuplicate means the two texts express the same idea.
	KindDuplicate Kind = "duplicate"
	// KindContradiction means the two texts make opposing claims about the
	// same subject.
	KindContradiction Kind = "contradiction"
	// KindUnrelated means similarity alone was suggestive but polarity did
	// not conflict; no action is warranted.
	KindUnrelated Kind = "unrelated"
)

// Record is one existing corpus entry a new text is compared against.
type Record struct {
	// ID identifies the record to the caller.
	ID string
	// Text is the record's original content, consulted by the polarity
	// heuristic.
	Text string
	// Vector is the record's embedding.
	Vector []float32
}

// Verdict is the classification of one (new text, record) pair. Verdicts
// are recomputed per comparison and never persisted: the corpus changes
// over time.
type Verdict struct {
	// ID is the matched record's identifier.
	ID string
	// Score is the cosine similarity of the pair.
	Score float32
	// Kind is the classification.
	Kind Kind
	// Confidence is in (0, 1]; for duplicates and contradictions it grows
	// with similarity.
	Confidence float32
}

// Thresholds carries the similarity band boundaries. The shipped defaults
// are starting points, not validated constants; expose them to configuration.
type Thresholds struct {
	// Duplicate is the similarity at or above which a pair is a duplicate
	// regardless of polarity.
	Duplicate float32
	// ContradictionFloor is the lower bound of the band in which polarity
	// decides between contradiction and unrelated.
	ContradictionFloor float32
}

// DefaultThresholds returns the shipped band boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Duplicate: 0.85, ContradictionFloor: 0.70}
}

// PolarityHeuristic is the pluggable second signal: it reports whether two
// texts take opposing stances. Implementations must be deterministic.
type PolarityHeuristic interface {
	// Opposes reports whether a and b carry conflicting polarity.
	Opposes(a, b string) bool
}

// Detector combines the similarity engine with a polarity heuristic.
type Detector struct {
	engine     *similarity.Engine
	heuristic  PolarityHeuristic
	thresholds Thresholds
	log        *slog.Logger
}

// NewDetector constructs a Detector. A nil heuristic falls back to the
// lexical negation heuristic; zero thresholds fall back to the defaults.
func NewDetector(engine *similarity.Engine, heuristic PolarityHeuristic, thresholds Thresholds, log *slog.Logger) *Detector {
	if engine == nil {
		engine = similarity.NewEngine()
	}
	if heuristic == nil {
		heuristic = NewNegationHeuristic()
	}
	if thresholds.Duplicate == 0 {
		thresholds.Duplicate = DefaultThresholds().Duplicate
	}
	if thresholds.ContradictionFloor == 0 {
		thresholds.ContradictionFloor = DefaultThresholds().ContradictionFloor
	}
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		engine:     engine,
		heuristic:  heuristic,
		thresholds: thresholds,
		log:        log,
	}
}

// Classify compares newText (already embedded as newVector) against records
// and returns one verdict per record whose similarity reaches the
// contradiction floor. An empty corpus yields an empty verdict list.
//
// Pairs at or above the duplicate threshold short-circuit to duplicate:
// high similarity without a polarity conflict check implies redundancy, not
// disagreement. Pairs inside the band consult the polarity heuristic.
func (d *Detector) Classify(newText string, newVector []float32, records []Record) ([]Verdict, error) {
	if len(records) == 0 {
		return nil, nil
	}

	candidates := make([]similarity.Candidate, len(records))
	byID := make(map[string]Record, len(records))
	for i, r := range records {
		candidates[i] = similarity.Candidate{ID: r.ID, Vector: r.Vector}
		byID[r.ID] = r
	}

	matches, err := d.engine.FindSimilar(newVector, candidates, similarity.Options{
		MinScore: d.thresholds.ContradictionFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("conflict: %w", err)
	}

	verdicts := make([]Verdict, 0, len(matches))
	for _, m := range matches {
		v := Verdict{ID: m.ID, Score: m.Score}

		switch {
		case m.Score >= d.thresholds.Duplicate:
			v.Kind = KindDuplicate
			v.Confidence = m.Score
		case d.heuristic.Opposes(newText, byID[m.ID].Text):
			v.Kind = KindContradiction
			v.Confidence = m.Score
		default:
			v.Kind = KindUnrelated
			v.Confidence = 1 - m.Score
		}

		d.log.Debug("conflict: pair classified",
			slog.String("record", v.ID),
			slog.String("kind", string(v.Kind)),
			slog.Float64("score", float64(v.Score)),
		)
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}
