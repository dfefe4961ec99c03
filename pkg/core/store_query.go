package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/liliang-cn/vecmem/internal/encoding"
)

// Query performs a similarity search. The threshold policy resolves the
// cutoff, the tiers are tried in order (native similarity, distance, unscored)
// and a starved scored result triggers one retry with a relaxed threshold and
// without keyword or metadata filters.
//
// Tier failures never surface: the only errors are ErrStoreUnavailable and
// ErrInvalidEmbedding. No match is an empty slice.
func (s *Store) Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]Match, error) {
	clean, repaired, err := Sanitize(embedding)
	if err != nil {
		return nil, wrapError("query", err)
	}

	release, err := s.session("query")
	if err != nil {
		return nil, err
	}
	defer release()

	if repaired {
		s.metrics.repaired.Inc()
		s.logger.Debug("non-finite query values replaced with zero")
	}

	vector, err := encoding.EncodeVector(clean)
	if err != nil {
		return nil, wrapError("query", fmt.Errorf("%w: %v", ErrInvalidEmbedding, err))
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.config.DefaultTopK
	}
	threshold := ResolveThreshold(opts.Keywords, opts.Filters, opts.Threshold, topK)

	q := &tierQuery{
		vector:    vector,
		predicate: BuildPredicate(len(clean), opts.Keywords, opts.Filters),
		threshold: threshold,
		topK:      topK,
	}
	matches, scored := s.runTiers(ctx, q)

	if scored && shouldRetry(len(matches), topK, threshold) {
		relaxed := RelaxThreshold(threshold)
		s.metrics.retries.Inc()
		s.logger.Debug("too few matches, retrying with relaxed threshold",
			"matches", len(matches), "threshold", threshold, "relaxed", relaxed)

		// the retry deliberately drops keyword and metadata filters
		retry := &tierQuery{
			vector:    vector,
			predicate: BuildPredicate(len(clean), nil, nil),
			threshold: relaxed,
			topK:      topK,
		}
		matches, _ = s.runTiers(ctx, retry)
	}

	return matches, nil
}

// runTiers tries each tier in order and returns the first success. scored
// reports whether the answering tier computed real similarity scores.
func (s *Store) runTiers(ctx context.Context, q *tierQuery) (matches []Match, scored bool) {
	for _, t := range s.tiers {
		matches, err := t.attempt(ctx, q)
		if err == nil {
			s.metrics.tierHits.WithLabelValues(t.name()).Inc()
			return matches, t.scored()
		}
		if errors.Is(err, errTierUnsupported) {
			s.logger.Debug("retrieval tier unavailable", "tier", t.name())
		} else {
			s.logger.Warn("retrieval tier failed, falling back", "tier", t.name(), "error", err)
		}
	}
	// only reachable if the unscored tier itself failed
	return []Match{}, false
}
