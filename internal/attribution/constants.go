package attribution

import "time"

// Matching policy. These are tuning knobs, not mechanism; config.Load can
// override the threshold and timeout per deployment.
const (
	// DefaultModelName is the Gemini model used for fuzzy sender matching.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultMatchThreshold is the minimum AI confidence treated as a
	// match. Exactly at the threshold counts as matched.
	DefaultMatchThreshold = 0.85

	// DefaultSuggestionFloor is the minimum confidence for an AI
	// alternative to be surfaced to a reviewer.
	DefaultSuggestionFloor = 0.5

	// DefaultOracleTimeout bounds the outbound Gemini call. A timeout is
	// classified as an oracle failure and degrades to "unmatched".
	DefaultOracleTimeout = 30 * time.Second
)
