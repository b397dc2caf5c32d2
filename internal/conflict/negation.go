package conflict

import (
	"strings"
)

// negationMarkers are tokens that flip a statement's polarity. An odd count
// of markers negates the statement's cue-derived polarity.
var negationMarkers = map[string]struct{}{
	"no": {}, "not": {}, "never": {}, "none": {}, "nothing": {},
	"neither": {}, "nor": {}, "without": {}, "cannot": {},
	"can't": {}, "don't": {}, "doesn't": {}, "didn't": {}, "won't": {},
	"isn't": {}, "aren't": {}, "wasn't": {}, "weren't": {}, "shouldn't": {},
	"hardly": {}, "barely": {}, "rarely": {},
}

// positiveCues and negativeCues are opposing sentiment markers. A statement
// with more cues of one sign than the other carries that polarity; negation
// markers flip it.
var positiveCues = map[string]struct{}{
	"improve": {}, "improves": {}, "improved": {}, "improving": {},
	"help": {}, "helps": {}, "helped": {},
	"boost": {}, "boosts": {}, "boosted": {},
	"increase": {}, "increases": {}, "increased": {},
	"benefit": {}, "benefits": {},
	"good": {}, "great": {}, "useful": {}, "effective": {}, "valuable": {},
	"save": {}, "saves": {}, "saved": {},
	"enable": {}, "enables": {},
	"strengthen": {}, "strengthens": {},
	"works": {}, "succeed": {}, "succeeds": {},
}

var negativeCues = map[string]struct{}{
	"disrupt": {}, "disrupts": {}, "disrupted": {},
	"hurt": {}, "hurts": {},
	"harm": {}, "harms": {}, "harmful": {},
	"worsen": {}, "worsens": {}, "worse": {},
	"decrease": {}, "decreases": {}, "decreased": {},
	"reduce": {}, "reduces": {}, "reduced": {},
	"waste": {}, "wastes": {}, "wasted": {},
	"bad": {}, "poor": {}, "useless": {}, "ineffective": {}, "worthless": {},
	"ruin": {}, "ruins": {}, "ruined": {},
	"break": {}, "breaks": {}, "broken": {},
	"fail": {}, "fails": {}, "failed": {},
	"block": {}, "blocks": {}, "blocked": {},
}

// NegationHeuristic is the default PolarityHeuristic: a lexical check built
// from negation markers and opposing sentiment cues. It is intentionally
// shallow; swap it out through the Detector's interface when a better
// signal is available.
type NegationHeuristic struct{}

// NewNegationHeuristic returns the default lexical heuristic.
func NewNegationHeuristic() *NegationHeuristic { return &NegationHeuristic{} }

// Opposes reports whether a and b carry conflicting polarity: opposite
// cue-derived signs, or differing negation parity when either side lacks
// cues.
func (h *NegationHeuristic) Opposes(a, b string) bool {
	pa, negA := polarity(a)
	pb, negB := polarity(b)

	if pa != 0 && pb != 0 {
		return pa != pb
	}
	// Cue-less statements ("it works" vs "it doesn't work"): fall back to
	// negation parity alone.
	return negA != negB
}

// polarity returns the statement's sign in {-1, 0, +1} and whether its
// negation-marker count is odd.
func polarity(text string) (sign int, negated bool) {
	score := 0
	negations := 0
	for _, tok := range tokenize(text) {
		if _, ok := negationMarkers[tok]; ok {
			negations++
			continue
		}
		if _, ok := positiveCues[tok]; ok {
			score++
			continue
		}
		if _, ok := negativeCues[tok]; ok {
			score--
		}
	}

	negated = negations%2 == 1
	if negated {
		score = -score
	}
	switch {
	case score > 0:
		return 1, negated
	case score < 0:
		return -1, negated
	default:
		return 0, negated
	}
}

// tokenize lowercases text and splits it into word tokens, keeping
// apostrophes so contractions like "doesn't" survive as single tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' || r == '-' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
