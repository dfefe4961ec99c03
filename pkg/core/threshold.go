package core

import "math"

// Threshold policy constants
const (
	NarrowThreshold      = 0.8 // keywords and metadata filters
	BalancedThreshold    = 0.6 // one kind of filter, or the default
	ExploratoryThreshold = 0.3 // large unfiltered result sets
	ExploratoryTopK      = 20  // topK above this is exploratory

	// RetryFloor is the lowest threshold the adaptive retry relaxes to
	RetryFloor = 0.3
	// RetryStep is how far the adaptive retry lowers the threshold
	RetryStep = 0.2
	// RetryMinResults caps the "too few results" trigger, min(RetryMinResults, topK)
	RetryMinResults = 3
)

// ResolveThreshold derives the similarity cutoff for a query. An explicit
// non-negative threshold always wins.
func ResolveThreshold(keywords []string, filters map[string]any, explicit *float64, topK int) float64 {
	if explicit != nil && *explicit >= 0 {
		return *explicit
	}

	hasKeywords := len(normalizeKeywords(keywords)) > 0
	hasFilters := usableFilters(filters) > 0

	switch {
	case hasKeywords && hasFilters:
		return NarrowThreshold
	case hasKeywords || hasFilters:
		return BalancedThreshold
	case topK > ExploratoryTopK:
		return ExploratoryThreshold
	default:
		return BalancedThreshold
	}
}

// RelaxThreshold returns the threshold used by the adaptive retry
func RelaxThreshold(threshold float64) float64 {
	return math.Max(RetryFloor, threshold-RetryStep)
}

// shouldRetry reports whether a scored result set is starved enough to
// warrant one relaxed retry
func shouldRetry(got, topK int, threshold float64) bool {
	return got < min(RetryMinResults, topK) && threshold > RetryFloor
}

// usableFilters counts the filters that survive key sanitizing, which are the
// ones the predicate actually applies
func usableFilters(filters map[string]any) int {
	n := 0
	for key := range filters {
		if sanitizeKey(key) != "" {
			n++
		}
	}
	return n
}
