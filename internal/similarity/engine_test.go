package similarity

import (
	"errors"
	"testing"

	"github.com/mnemo-ai/mnemo-go/internal/vecmath"
)

// TestFindSimilar_ThresholdAndTopK verifies that below-threshold candidates
// are dropped before truncation and that no result exceeds TopK.
func TestFindSimilar_ThresholdAndTopK(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	query := []float32{1, 0}
	candidates := []Candidate{
		{ID: "orthogonal", Vector: []float32{0, 1}},
		{ID: "exact", Vector: []float32{1, 0}},
		{ID: "close", Vector: []float32{0.9806, 0.196}},
		{ID: "loose", Vector: []float32{0.6, 0.8}},
	}

	got, err := e.FindSimilar(query, candidates, Options{TopK: 2, MinScore: 0.5})
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("returned %d matches, want 2", len(got))
	}
	if got[0].ID != "exact" || got[1].ID != "close" {
		t.Errorf("order = [%s %s], want [exact close]", got[0].ID, got[1].ID)
	}
	for _, m := range got {
		if m.Score < 0.5 {
			t.Errorf("match %s scored %v, below threshold", m.ID, m.Score)
		}
	}
}

// TestFindSimilar_Exclude verifies that excluded IDs never match, covering
// the record-must-not-match-itself case.
func TestFindSimilar_Exclude(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	self := []float32{1, 0}
	candidates := []Candidate{
		{ID: "self", Vector: self},
		{ID: "other", Vector: []float32{0.8, 0.6}},
	}

	got, err := e.FindSimilar(self, candidates, Options{
		TopK:    5,
		Exclude: map[string]struct{}{"self": {}},
	})
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "other" {
		t.Errorf("matches = %+v, want only [other]", got)
	}
}

// TestFindSimilar_EmptyCorpus verifies graceful degradation to an empty
// result for empty or fully-excluded candidate sets.
func TestFindSimilar_EmptyCorpus(t *testing.T) {
	t.Parallel()

	e := NewEngine()

	got, err := e.FindSimilar([]float32{1, 0}, nil, Options{TopK: 3})
	if err != nil {
		t.Fatalf("FindSimilar on empty corpus failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty corpus returned %d matches", len(got))
	}

	got, err = e.FindSimilar([]float32{1, 0},
		[]Candidate{{ID: "only", Vector: []float32{1, 0}}},
		Options{Exclude: map[string]struct{}{"only": {}}})
	if err != nil {
		t.Fatalf("FindSimilar on fully-excluded corpus failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fully-excluded corpus returned %d matches", len(got))
	}
}

// TestFindSimilar_DimensionMismatch verifies the kernel error surfaces with
// its type intact.
func TestFindSimilar_DimensionMismatch(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	_, err := e.FindSimilar([]float32{1, 0},
		[]Candidate{{ID: "bad", Vector: []float32{1, 0, 0}}},
		Options{TopK: 1})

	var dimErr *vecmath.DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected *vecmath.DimensionMismatchError, got %v", err)
	}
}

// TestFindSimilar_UnboundedTopK verifies TopK <= 0 returns every qualifying
// match.
func TestFindSimilar_UnboundedTopK(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	candidates := []Candidate{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0.8, 0.6}},
		{ID: "c", Vector: []float32{0.6, 0.8}},
	}
	got, err := e.FindSimilar([]float32{1, 0}, candidates, Options{MinScore: 0.5})
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("unbounded TopK returned %d matches, want 3", len(got))
	}
}
