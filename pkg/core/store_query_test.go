package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Unit vectors in the xy-plane whose cosine with (1,0,0) is 0.5, 0.45 and 0.35.
var (
	weakA = []float32{0.5, 0.8660254, 0}
	weakB = []float32{0.45, 0.8930286, 0}
	weakC = []float32{0.35, 0.9367497, 0}
)

func matchIDs(matches []Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids
}

func TestQueryOrdersByScore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "exact", Embedding: []float32{1, 0, 0}},
		VectorRecord{ID: "close", Embedding: []float32{0.9, 0.1, 0}},
		VectorRecord{ID: "far", Embedding: []float32{0, 0, 1}},
		VectorRecord{ID: "opposite", Embedding: []float32{-1, 0, 0}},
	)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 3, Threshold: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "close", "far"}, matchIDs(matches))
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Greater(t, matches[1].Score, 0.9)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-6)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(store.metrics.tierHits.WithLabelValues("native")))
}

func TestQueryThresholdFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "exact", Embedding: []float32{1, 0, 0}},
		VectorRecord{ID: "a", Embedding: weakA},
		VectorRecord{ID: "b", Embedding: weakB},
	)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 1, Threshold: ptr(0.9)})
	require.NoError(t, err)
	assert.Equal(t, []string{"exact"}, matchIDs(matches))

	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.9)
	}
}

func TestQueryDimensionIsolation(t *testing.T) {
	for _, accelerated := range []bool{true, false} {
		t.Run(fmt.Sprintf("accelerated=%v", accelerated), func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t, func(c *Config) { c.DisableAcceleration = !accelerated })

			mustSave(t, store,
				VectorRecord{ID: "three", Embedding: []float32{1, 0, 0}},
				VectorRecord{ID: "four", Embedding: []float32{1, 0, 0, 0}},
				VectorRecord{ID: "two", Embedding: []float32{1, 0}},
			)

			matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 10, Threshold: ptr(0)})
			require.NoError(t, err)
			assert.Equal(t, []string{"three"}, matchIDs(matches))

			matches, err = store.Query(ctx, []float32{0, 1, 0, 0}, QueryOptions{TopK: 10, Threshold: ptr(0)})
			require.NoError(t, err)
			assert.Equal(t, []string{"four"}, matchIDs(matches))
		})
	}
}

func TestQueryAdaptiveRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "a", Embedding: weakA},
		VectorRecord{ID: "b", Embedding: weakB},
		VectorRecord{ID: "c", Embedding: weakC},
	)

	// default threshold 0.6 finds nothing, the retry at 0.4 finds a and b
	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, matchIDs(matches))
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.4)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(store.metrics.retries))
}

func TestQueryRetryDropsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "a", Embedding: weakA, Metadata: map[string]any{"category": "other"}},
		VectorRecord{ID: "b", Embedding: weakB, Metadata: map[string]any{"category": "other"}},
	)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{
		TopK:    5,
		Filters: map[string]any{"category": "wanted"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, matchIDs(matches))
	assert.Equal(t, "other", matches[0].Metadata["category"])
}

func TestQueryNoRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "a", Embedding: weakA},
		VectorRecord{ID: "b", Embedding: weakB},
		VectorRecord{ID: "c", Embedding: weakC},
	)

	// exploratory threshold is already at the floor
	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, matchIDs(matches))

	// enough results at the explicit threshold
	matches, err = store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 2, Threshold: ptr(0.4)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, matchIDs(matches))

	assert.Zero(t, testutil.ToFloat64(store.metrics.retries))
}

func TestQueryFallbackCascade(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(c *Config) { c.DisableAcceleration = true })
	assert.False(t, store.Accelerated())

	recs := records(10, 3)
	mustSave(t, store, recs...)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 4})
	require.NoError(t, err)
	require.Len(t, matches, 4)
	for _, m := range matches {
		assert.Equal(t, UnscoredScore, m.Score)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(store.metrics.tierHits.WithLabelValues("unscored")))
	// unscored results never trigger the retry
	assert.Zero(t, testutil.ToFloat64(store.metrics.retries))
}

func TestQueryDistanceTier(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(c *Config) { c.SimilarityFunction = "missing_similarity" })

	mustSave(t, store,
		VectorRecord{ID: "exact", Embedding: []float32{1, 0, 0}},
		VectorRecord{ID: "far", Embedding: []float32{0, 1, 0}},
	)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 5, Threshold: ptr(0.3)})
	require.NoError(t, err)
	require.Equal(t, []string{"exact"}, matchIDs(matches))
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)

	assert.Equal(t, 1.0, testutil.ToFloat64(store.metrics.tierHits.WithLabelValues("distance")))
	assert.Zero(t, testutil.ToFloat64(store.metrics.tierHits.WithLabelValues("native")))
}

func TestQueryUnscoredWhenDistanceFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(c *Config) {
		c.SimilarityFunction = "missing_similarity"
		c.DistanceFunction = "missing_distance"
	})

	mustSave(t, store, records(5, 3)...)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, UnscoredScore, m.Score)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(store.metrics.tierHits.WithLabelValues("unscored")))
}

func TestQueryTierFailuresDoNotSurface(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	_, err := store.db.ExecContext(ctx, "DROP TABLE vectors")
	require.NoError(t, err)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{})
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestQueryEmptyStore(t *testing.T) {
	store := newTestStore(t, nil)

	matches, err := store.Query(context.Background(), []float32{1, 0, 0}, QueryOptions{})
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestQueryInvalidEmbedding(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.Query(context.Background(), nil, QueryOptions{})
	assert.True(t, errors.Is(err, ErrInvalidEmbedding))
}

func TestQueryDegenerateVectorsScoreZero(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "zero", Embedding: []float32{0, 0, 0}},
		VectorRecord{ID: "unit", Embedding: []float32{1, 0, 0}},
	)

	// a zero stored vector has no cosine and scores 0
	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{Threshold: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"unit", "zero"}, matchIDs(matches))
	assert.Zero(t, matches[1].Score)

	// a query that sanitizes to all zeros scores 0 everywhere
	matches, err = store.Query(ctx, []float32{0, 0, 0}, QueryOptions{Threshold: ptr(0)})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Zero(t, m.Score)
	}
}

func TestQueryKeywordsAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "go", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"content": "Go channels", "lang": "go"}},
		VectorRecord{ID: "go2", Embedding: []float32{0.95, 0.05, 0}, Metadata: map[string]any{"content": "Go generics", "lang": "go"}},
		VectorRecord{ID: "go3", Embedding: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"title": "More Go", "lang": "go"}},
		VectorRecord{ID: "rs", Embedding: []float32{0.99, 0.01, 0}, Metadata: map[string]any{"content": "Rust traits", "lang": "rust"}},
	)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, QueryOptions{
		Keywords: []string{"go"},
		Filters:  map[string]any{"lang": "go"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"go", "go2", "go3"}, matchIDs(matches))
	assert.Equal(t, "go", matches[0].ID)

	mustSave(t, store, VectorRecord{ID: "de", Embedding: []float32{0, 0, 1}, Metadata: map[string]any{"content": "ÜBER Äpfel"}})
	for _, kw := range []string{"über", "ÜBER", "äpfel", "ÄPFEL"} {
		matches, err = store.Query(ctx, []float32{0, 0, 1}, QueryOptions{Keywords: []string{kw}, Threshold: ptr(0)})
		require.NoError(t, err)
		assert.Equal(t, []string{"de"}, matchIDs(matches), kw)
	}
}

func TestQueryMetadataContentIsSynthesized(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "bare", Embedding: []float32{1, 0}},
		VectorRecord{ID: "tagged", Embedding: []float32{1, 0.01}, Metadata: map[string]any{"tag": "x"}},
	)

	matches, err := store.Query(ctx, []float32{1, 0}, QueryOptions{Threshold: ptr(0)})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "", m.Metadata["content"])
	}
	assert.Equal(t, "x", matches[1].Metadata["tag"])
}

func TestQueryDefaultTopK(t *testing.T) {
	store := newTestStore(t, func(c *Config) { c.DefaultTopK = 2 })
	mustSave(t, store, records(6, 3)...)

	matches, err := store.Query(context.Background(), []float32{1, 1, 1}, QueryOptions{Threshold: ptr(0)})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
