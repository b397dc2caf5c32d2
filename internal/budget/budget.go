// Package budget provides token budget estimation and context trimming for
// chat requests. Because the provider layer supports multiple local model
// backends with different tokenizers, this package uses a conservative
// character-based heuristic: 1 token ≈ 4 characters (English prose).
// This deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English prose; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// perNoteOverhead covers the framing each context note costs on top of
	// its content (~4 tokens in most chat templates).
	perNoteOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B)
	// while leaving room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateNotes returns the estimated total token count for a slice of
// context notes, including per-note framing overhead.
func EstimateNotes(notes []string) int {
	total := 0
	for _, n := range notes {
		total += perNoteOverhead
		total += Estimate(n)
	}
	return total
}

// TrimHistory removes the oldest entries from history until the total
// estimated token count of fixed + history + message fits within maxTokens.
// fixed holds notes that must not be trimmed (pinned grounding context and
// the current message); history holds prior conversation turns that may be
// dropped oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget, the empty slice is returned (fixed notes are never dropped here;
// callers should warn separately if fixed alone exceeds the budget).
func TrimHistory(fixed, history []string, message string, maxTokens int) []string {
	if len(history) == 0 {
		return history
	}

	pinned := EstimateNotes(fixed) + Estimate(message)

	// History is typically a few dozen entries; linear scan from the front
	// (dropping oldest) is clear and correct.
	for len(history) > 0 {
		if pinned+EstimateNotes(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
