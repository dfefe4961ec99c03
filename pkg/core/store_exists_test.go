package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	mustSave(t, store,
		VectorRecord{ID: "a", Embedding: []float32{1, 0}},
		VectorRecord{ID: "b", Embedding: []float32{0, 1}},
		VectorRecord{ID: "c", Embedding: []float32{1, 1}},
	)

	existing, err := store.CheckExisting(ctx, []string{"a", "x", "c"}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, existing)

	existing, err = store.CheckExisting(ctx, []string{"x", "y"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, existing)
	assert.Empty(t, existing)
}

func TestCheckExistingEmptyInput(t *testing.T) {
	config := DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "vectors.db")
	store, err := New(config)
	require.NoError(t, err)

	// no storage access happens, so a store that was never opened is fine
	existing, err := store.CheckExisting(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{}, existing)
}

func TestCheckExistingBatchesWithProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(c *Config) { c.BatchSize = 2 })

	mustSave(t, store, records(4, 3)...)

	type call struct{ processed, total int }
	var calls []call
	ids := []string{"rec-000", "nope", "rec-002", "rec-003", "other"}

	existing, err := store.CheckExisting(ctx, ids, func(processed, total int) {
		calls = append(calls, call{processed, total})
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rec-000", "rec-002", "rec-003"}, existing)
	assert.Equal(t, []call{{2, 5}, {4, 5}, {5, 5}}, calls)
}

func TestCheckExistingReturnsPartialOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	_, err := store.db.ExecContext(ctx, "DROP TABLE vectors")
	require.NoError(t, err)

	existing, err := store.CheckExisting(ctx, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, existing)
	assert.Empty(t, existing)
}
