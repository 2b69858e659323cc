package challenge

import "strings"

// Classification is the semantic tag derived from a snapshot's text.
type Classification int

const (
	ObservationFailed Classification = iota
	AwaitingVerify
	TryAgain
	VerificationComplete
	AwaitingSelection
	Ambiguous
)

func (c Classification) String() string {
	switch c {
	case AwaitingVerify:
		return "awaiting_verify"
	case TryAgain:
		return "try_again"
	case VerificationComplete:
		return "verification_complete"
	case AwaitingSelection:
		return "awaiting_selection"
	case Ambiguous:
		return "ambiguous"
	case ObservationFailed:
		return "observation_failed"
	}
	return "unknown"
}

var selectionKeywords = []string{"pick", "select", "match"}

// rule is one step of the keyword precedence; the first matching rule wins.
type rule struct {
	tag      Classification
	keywords []string
}

// OCR output is noisy, so precedence matters more than exact parsing:
// "verification complete" must beat "verify", and error banners beat both.
var rules = []rule{
	{VerificationComplete, []string{"verification complete"}},
	{TryAgain, []string{"try again", "error"}},
	{AwaitingVerify, []string{"verify"}},
	{AwaitingSelection, selectionKeywords},
}

// Classify maps extracted text to a Classification. It never fails.
func Classify(text string) Classification {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return ObservationFailed
	}
	for _, r := range rules {
		if containsAny(lower, r.keywords) {
			return r.tag
		}
	}
	return Ambiguous
}

// GridTypeFor picks the grid interpretation for the instruction text.
func GridTypeFor(text string) GridType {
	if containsAny(strings.ToLower(text), selectionKeywords) {
		return GridPickMatch
	}
	return GridCompare
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
